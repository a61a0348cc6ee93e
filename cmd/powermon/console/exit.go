package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes returned by the cli.
const (
	ExitError        = 1
	ExitNotConnected = 2
	ExitUsage        = 3
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
