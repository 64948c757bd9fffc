// Package logx is the logging surface shared by host and MCU builds. On the
// host it is satisfied by *log.Logger from charmbracelet/log; on the MCU by
// Console, which writes through fmtx.
package logx

import (
	"io"

	"dhtnode/x/fmtx"
)

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	ErrorLevel Level = 2
)

// Console writes "LEVEL message" lines to W.
type Console struct {
	W     io.Writer
	Level Level
}

func (c *Console) Debugf(format string, args ...any) { c.logf(DebugLevel, "DEBU ", format, args) }
func (c *Console) Infof(format string, args ...any)  { c.logf(InfoLevel, "INFO ", format, args) }
func (c *Console) Errorf(format string, args ...any) { c.logf(ErrorLevel, "ERRO ", format, args) }

func (c *Console) logf(l Level, tag, format string, args []any) {
	if l < c.Level {
		return
	}
	w := c.W
	if w == nil {
		w = fmtx.DefaultOutput
	}
	_, _ = fmtx.Fprint(w, tag+fmtx.Sprintf(format, args...)+"\n")
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}
