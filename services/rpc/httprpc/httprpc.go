// Package httprpc serves RPC methods over HTTP.
//
//	GET|POST /rpc/{method}   body: args, reply: result
//	POST     /rpc            body: full frame, reply: full response frame
//	GET      /healthz
//
// A method that sends no reply within the timeout yields 504.
package httprpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"dhtnode/bus"
	"dhtnode/errcode"
	"dhtnode/services/rpc"
	"dhtnode/x/logx"
)

const (
	maxBody = 64 << 10
	src     = "http"
)

type Server struct {
	conn    *bus.Connection
	timeout time.Duration
	log     logx.Logger
	ids     atomic.Int64
	handler http.Handler
}

func New(conn *bus.Connection, timeout time.Duration, log logx.Logger) *Server {
	if log == nil {
		log = logx.Nop{}
	}
	s := &Server{conn: conn, timeout: timeout, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/rpc", s.frame).Methods(http.MethodPost)
	r.HandleFunc("/rpc/{method}", s.method).Methods(http.MethodGet, http.MethodPost)

	logged := handlers.CombinedLoggingHandler(&lineWriter{log: log}, r)
	s.handler = handlers.RecoveryHandler(handlers.RecoveryLogger(s))(logged)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Println lets the recovery handler log through our logger.
func (s *Server) Println(v ...any) {
	s.log.Errorf("httprpc: panic: %v", v)
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infof("httprpc: listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := srv.Shutdown(shCtx)
		if e := <-errCh; e != nil && !errors.Is(e, http.ErrServerClosed) {
			return e
		}
		return err
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) method(w http.ResponseWriter, r *http.Request) {
	f := rpc.Frame{ID: s.ids.Add(1), Src: src, Method: mux.Vars(r)["method"]}
	if r.Method == http.MethodPost {
		body, err := readBody(r)
		if err != nil {
			s.fail(w, f.ID, errcode.RPC(errcode.InvalidPayload), err.Error())
			return
		}
		if len(body) > 0 {
			if !json.Valid(body) {
				s.fail(w, f.ID, errcode.RPC(errcode.InvalidPayload), "args are not JSON")
				return
			}
			f.Args = body
		}
	}

	resp, err := s.call(r.Context(), f)
	if st := rpc.Status(resp, err); st != http.StatusOK {
		s.fail(w, f.ID, st, message(resp, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Result)
}

func (s *Server) frame(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.fail(w, 0, errcode.RPC(errcode.InvalidPayload), err.Error())
		return
	}
	var f rpc.Frame
	if err := json.Unmarshal(body, &f); err != nil {
		s.fail(w, 0, errcode.RPC(errcode.InvalidPayload), "bad frame: "+err.Error())
		return
	}
	if f.Src == "" {
		f.Src = src
	}

	resp, err := s.call(r.Context(), f)
	if err != nil {
		s.fail(w, f.ID, rpc.Status(resp, err), message(resp, err))
		return
	}
	st := rpc.Status(resp, nil)
	writeJSON(w, httpStatus(st), resp)
}

func (s *Server) call(ctx context.Context, f rpc.Frame) (rpc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := rpc.Call(ctx, s.conn, f)
	if err != nil {
		s.log.Debugf("httprpc: %s: %v", f.Method, err)
	}
	return resp, err
}

func (s *Server) fail(w http.ResponseWriter, id int64, code int, msg string) {
	writeJSON(w, httpStatus(code), rpc.Response{ID: id, Dst: src, Error: &rpc.Error{Code: code, Message: msg}})
}

func message(resp rpc.Response, err error) string {
	if err != nil {
		return string(errcode.Of(err))
	}
	return resp.Error.Message
}

// httpStatus clamps an RPC error code to a valid HTTP status.
func httpStatus(code int) int {
	if code >= 200 && code <= 599 {
		return code
	}
	return http.StatusInternalServerError
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBody))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// lineWriter turns access log lines into debug log entries.
type lineWriter struct{ log logx.Logger }

func (l *lineWriter) Write(p []byte) (int, error) {
	l.log.Debugf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
