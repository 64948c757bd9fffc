// Package uartrpc serves RPC frames over a serial link. Each request and
// each response is one JSON object terminated by '\n'.
package uartrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"dhtnode/bus"
	"dhtnode/errcode"
	"dhtnode/services/rpc"
	"dhtnode/types"
	"dhtnode/x/logx"
	"dhtnode/x/timex"
)

const maxLine = 4096

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

type Config struct {
	// Transport selects a registered transport; empty means "uart".
	Transport string
	Port      string // host device path
	Baud      int
	TxPin     int // MCU pin numbers
	RxPin     int

	Device  string        // src of responses
	Timeout time.Duration // reply wait per request
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	cfg        Config
	log        logx.Logger
	stateTopic bus.Topic
}

func New(conn *bus.Connection, cfg Config, log logx.Logger) *Service {
	if log == nil {
		log = logx.Nop{}
	}
	if cfg.Transport == "" {
		cfg.Transport = "uart"
	}
	return &Service{conn: conn, cfg: cfg, log: log, stateTopic: bus.T("uartrpc", "state")}
}

// Run supervises the link until ctx is cancelled, reopening it with
// backoff whenever it fails.
func (s *Service) Run(ctx context.Context) error {
	tr, err := newTransport(s.cfg)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return err
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		if ctx.Err() != nil {
			s.publishState("idle", "stopped", nil)
			return nil
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		s.log.Infof("uartrpc: link up on %s", tr)
		err = s.handleLink(ctx, rwc)
		_ = rwc.Close()
		if ctx.Err() != nil {
			s.publishState("idle", "stopped", nil)
			return nil
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// handleLink reads request lines until the link fails or ctx ends.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing unblocks the reader on cancel.
	go func() {
		<-lctx.Done()
		_ = rwc.Close()
	}()

	var (
		wmu sync.Mutex
		wg  sync.WaitGroup
	)
	defer wg.Wait()

	sc := bufio.NewScanner(rwc)
	sc.Buffer(make([]byte, 0, 256), maxLine)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, ok := s.handleLine(lctx, line)
			if !ok {
				return
			}
			wmu.Lock()
			defer wmu.Unlock()
			if _, err := rwc.Write(out); err != nil {
				s.log.Debugf("uartrpc: write: %v", err)
				cancel()
			}
		}()
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

// handleLine runs one request and returns the response line to write.
func (s *Service) handleLine(ctx context.Context, line []byte) ([]byte, bool) {
	var f rpc.Frame
	if err := json.Unmarshal(line, &f); err != nil {
		s.log.Debugf("uartrpc: bad frame: %v", err)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	resp, err := rpc.Call(ctx, s.conn, f)
	switch {
	case errors.Is(err, errcode.Timeout):
		return nil, false
	case err != nil:
		if ctx.Err() != nil {
			return nil, false
		}
		resp = rpc.Response{ID: f.ID, Src: s.cfg.Device, Dst: f.Src, Error: &rpc.Error{
			Code:    errcode.RPC(errcode.Of(err)),
			Message: err.Error(),
		}}
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, false
	}
	return append(out, '\n'), true
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport opens the link.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type TransportFactory func(Config) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]TransportFactory{}
)

// RegisterTransport adds or replaces a transport. Platform files register
// "uart".
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg Config) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Transport]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport)
	}
	return f(cfg)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := types.State{Level: level, Status: status, TSms: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
