//go:build rp2040 || rp2350

package uartrpc

import (
	"context"
	"errors"
	"io"
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"
)

func init() { RegisterTransport("uart", newUARTXTransport) }

var errClosed = errors.New("uart closed")

type uartxTransport struct {
	hw  *uartx.UART
	cfg Config
}

// UART1 owns TX on GP4 and GP8; other pins map to UART0.
func newUARTXTransport(cfg Config) (Transport, error) {
	hw := uartx.UART0
	if cfg.TxPin == 4 || cfg.TxPin == 8 {
		hw = uartx.UART1
	}
	return &uartxTransport{hw: hw, cfg: cfg}, nil
}

func (t *uartxTransport) Open(context.Context) (io.ReadWriteCloser, error) {
	if err := t.hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(t.cfg.Baud),
		TX:       machine.Pin(t.cfg.TxPin),
		RX:       machine.Pin(t.cfg.RxPin),
	}); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &uartxConn{u: t.hw, ctx: ctx, cancel: cancel}, nil
}

func (t *uartxTransport) String() string { return "uartx" }

// uartxConn adapts the context-aware receive to io.Reader. Close cancels
// any pending read.
type uartxConn struct {
	u      *uartx.UART
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *uartxConn) Read(p []byte) (int, error) {
	n, err := c.u.RecvSomeContext(c.ctx, p)
	if err != nil && c.ctx.Err() != nil {
		return n, errClosed
	}
	return n, err
}

func (c *uartxConn) Write(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, errClosed
	}
	return c.u.Write(p)
}

func (c *uartxConn) Close() error { c.cancel(); return nil }
