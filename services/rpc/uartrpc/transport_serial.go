//go:build !(rp2040 || rp2350)

package uartrpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

func init() { RegisterTransport("uart", newSerialTransport) }

type serialTransport struct {
	port string
	mode *serial.Mode
}

func newSerialTransport(cfg Config) (Transport, error) {
	if cfg.Port == "" {
		return nil, errors.New("uart transport requires a port")
	}
	return &serialTransport{port: cfg.Port, mode: &serial.Mode{BaudRate: cfg.Baud}}, nil
}

func (t *serialTransport) Open(context.Context) (io.ReadWriteCloser, error) {
	p, err := serial.Open(t.port, t.mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return p, nil
}

func (t *serialTransport) String() string { return "serial:" + t.port }
