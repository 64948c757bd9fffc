// Package evloop runs timer callbacks and RPC handlers on a single goroutine.
// Callbacks never overlap, so code driven by the loop needs no locking of
// its own.
package evloop

import (
	"context"
	"sort"
	"sync"
	"time"

	"dhtnode/bus"
	"dhtnode/errcode"
	"dhtnode/services/rpc"
	"dhtnode/services/timer"
	"dhtnode/types"
	"dhtnode/x/logx"
	"dhtnode/x/timex"
)

var stateTopic = bus.T("evloop", "state")

type timerEntry struct {
	cb     func()
	repeat bool
}

type Loop struct {
	conn   *bus.Connection
	log    logx.Logger
	device string

	mu       sync.Mutex
	lastID   types.TimerID
	timers   map[types.TimerID]timerEntry
	handlers map[string]rpc.Handler

	fired chan types.TimerID
	q     *timer.Queue
}

// New creates a loop serving RPC requests seen on conn. device is reported
// as the src of every response.
func New(conn *bus.Connection, device string, log logx.Logger) *Loop {
	if log == nil {
		log = logx.Nop{}
	}
	fired := make(chan types.TimerID, 16)
	l := &Loop{
		conn:     conn,
		log:      log,
		device:   device,
		timers:   make(map[types.TimerID]timerEntry),
		handlers: make(map[string]rpc.Handler),
		fired:    fired,
		q:        timer.NewQueue(fired),
	}
	l.AddHandler("RPC.List", func(r *rpc.Request) { _ = r.Respond(l.Methods()) })
	return l
}

// SetTimer arms cb to run on the loop after interval, and again every
// interval when repeat is set. A non-positive interval fires once.
func (l *Loop) SetTimer(interval time.Duration, repeat bool, cb func()) types.TimerID {
	if interval <= 0 {
		repeat = false
	}
	l.mu.Lock()
	l.lastID++
	if l.lastID == 0 {
		l.lastID++
	}
	id := l.lastID
	l.timers[id] = timerEntry{cb: cb, repeat: repeat}
	l.mu.Unlock()

	l.q.Add(id, interval, repeat)
	return id
}

// ClearTimer disarms a timer. It reports whether the timer was armed.
func (l *Loop) ClearTimer(id types.TimerID) bool {
	l.mu.Lock()
	_, ok := l.timers[id]
	delete(l.timers, id)
	l.mu.Unlock()
	l.q.Remove(id)
	return ok
}

// AddHandler registers h for method, replacing any previous handler.
func (l *Loop) AddHandler(method string, h rpc.Handler) {
	l.mu.Lock()
	l.handlers[method] = h
	l.mu.Unlock()
}

// Methods lists the registered method names in order.
func (l *Loop) Methods() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.handlers))
	for m := range l.handlers {
		out = append(out, m)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}

// Run serves until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	sub := l.conn.Subscribe(rpc.Topic(bus.WildOne))
	defer l.conn.Unsubscribe(sub)

	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.q.Run(qctx)

	l.publishState("up", "running", nil)
	defer l.publishState("stopped", "context_cancelled", nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-l.fired:
			l.fire(id)
		case msg, ok := <-sub.Channel():
			if !ok {
				return errcode.NotConnected
			}
			l.dispatch(msg)
		}
	}
}

func (l *Loop) fire(id types.TimerID) {
	l.mu.Lock()
	e, ok := l.timers[id]
	if ok && !e.repeat {
		delete(l.timers, id)
	}
	l.mu.Unlock()
	if !ok || e.cb == nil {
		return
	}
	l.safely("timer", func() { e.cb() })
}

func (l *Loop) dispatch(msg *bus.Message) {
	req, err := rpc.NewRequest(l.conn, msg, l.device)
	if err != nil {
		l.log.Errorf("rpc: %v", err)
		l.conn.Reply(msg, rpc.Response{Src: l.device, Error: &rpc.Error{
			Code:    errcode.RPC(errcode.Of(err)),
			Message: err.Error(),
		}}, false)
		return
	}

	l.mu.Lock()
	h := l.handlers[req.Method]
	l.mu.Unlock()
	if h == nil {
		_ = req.RespondError(errcode.RPC(errcode.NoHandler), "No handler for "+req.Method)
		return
	}
	if !l.safely(req.Method, func() { h(req) }) && !req.Responded() {
		_ = req.RespondError(errcode.RPC(errcode.Error), "internal error")
	}
}

// safely runs fn and reports whether it returned normally.
func (l *Loop) safely(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("evloop: %s panicked: %v", what, r)
			ok = false
		}
	}()
	fn()
	return true
}

func (l *Loop) publishState(level, status string, err error) {
	st := types.State{Level: level, Status: status, TSms: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	l.conn.Publish(l.conn.NewMessage(stateTopic, st, true))
}
