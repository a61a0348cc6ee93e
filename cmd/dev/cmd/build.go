package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary        = "powermon"
	mainPackage   = "./cmd/powermon"
	configPackage = "github.com/mklimuk/powermon/pkg/config"
	builderImage  = "gophertribe/gobuild:1.25-bookworm"
)

// boards maps the supported target boards to GOOS/GOARCH.
var boards = map[string][2]string{
	"nanopi": {"linux", "arm"},
	"rpi":    {"linux", "arm64"},
	"host":   {runtime.GOOS, runtime.GOARCH},
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the powermon cli",
		Long: `Build the powermon cli into dist/.

Native builds run go build directly. Builds for another board run inside the
builder container since the USB HID support needs cgo.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := cmd.Flags().GetString("version")
			if err != nil {
				return fmt.Errorf("could not get version flag: %w", err)
			}
			board, err := cmd.Flags().GetString("board")
			if err != nil {
				return fmt.Errorf("could not get board flag: %w", err)
			}
			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			inContainer, err := cmd.Flags().GetBool("in-container")
			if err != nil {
				return fmt.Errorf("could not get in-container flag: %w", err)
			}

			target, ok := boards[board]
			if !ok {
				return fmt.Errorf("unknown board %q", board)
			}
			goos, goarch := target[0], target[1]
			output := fmt.Sprintf("dist/%s-%s-%s", binary, goos, goarch)

			if inContainer || (goos == runtime.GOOS && goarch == runtime.GOARCH) {
				slog.Info("building", "output", output, "os", goos, "arch", goarch, "version", version)
				return build.GoBuild(output, mainPackage, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: configPackage,
					EnableCgo:     true,
					Arch:          goarch,
					OS:            goos,
				})
			}

			slog.Info("building in container", "image", builderImage, "board", board)
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", runtime.GOOS, runtime.GOARCH),
				[]string{"build", "--version", version, "--board", board, "--in-container"},
				build.DockerBuildOpts{
					NoCache: noCache,
					Image:   builderImage,
				})
		},
	}
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	cmd.Flags().String("version", "latest", "version injected into the binary")
	cmd.Flags().String("board", "host", "target board: "+strings.Join(names, ", "))
	cmd.Flags().Bool("no-cache", false, "do not use the container build cache")
	cmd.Flags().Bool("in-container", false, "build for the target directly (set inside the builder)")
	_ = cmd.Flags().MarkHidden("in-container")
	return cmd
}
