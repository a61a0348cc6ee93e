package console

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugfFollowsTrace(t *testing.T) {
	NoColor()
	buf := &bytes.Buffer{}
	SetOutput(buf, buf)
	defer SetOutput(os.Stdout, os.Stderr)
	defer func() { Trace = false }()

	Trace = false
	Debugf("bus %s", "soft")
	assert.Empty(t, buf.String())

	Trace = true
	Debugf("bus %s", "soft")
	assert.Equal(t, "[DEBUG] bus soft\n", buf.String())
}

func TestWarnfAndErrorf(t *testing.T) {
	NoColor()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	SetOutput(out, errOut)
	defer SetOutput(os.Stdout, os.Stderr)

	Warnf("could not close bus: %v", "busy")
	Errorf("sensor %#02x not connected", 0x40)
	assert.Empty(t, out.String())
	assert.Equal(t, "WARN: could not close bus: busy\nERROR: sensor 0x40 not connected\n", errOut.String())
}
