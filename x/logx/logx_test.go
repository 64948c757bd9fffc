package logx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsole_Levels(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{W: &buf, Level: InfoLevel}

	c.Debugf("hidden %d", 1)
	c.Infof("Temperature: %.2f *C", 23.456)
	c.Errorf("boom")

	assert.Equal(t, "INFO Temperature: 23.46 *C\nERRO boom\n", buf.String())
}

func TestConsole_Debug(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{W: &buf, Level: DebugLevel}
	c.Debugf("tick")
	assert.Equal(t, "DEBU tick\n", buf.String())
}
