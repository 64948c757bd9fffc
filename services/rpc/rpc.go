// Package rpc carries JSON-RPC style frames over the bus. A request for
// method M is published on rpc/M with a reply inbox; whoever registered M
// answers there. Channels (HTTP, MQTT, UART) translate their wire into
// bus requests with Call.
package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"dhtnode/bus"
	"dhtnode/errcode"
)

// TopicRoot prefixes every method topic.
const TopicRoot = "rpc"

// Topic returns the bus topic a method is served on.
func Topic(method string) bus.Topic { return bus.T(TopicRoot, method) }

// Frame is an inbound request.
type Frame struct {
	ID     int64           `json:"id"`
	Src    string          `json:"src,omitempty"`
	Dst    string          `json:"dst,omitempty"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Error is the error member of a response frame.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Response answers a Frame. Exactly one of Result and Error is set.
type Response struct {
	ID     int64           `json:"id"`
	Src    string          `json:"src,omitempty"`
	Dst    string          `json:"dst,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Handler serves one request. It may respond at most once, or not at all.
type Handler func(*Request)

// Request is a Frame plus the path back to the caller.
type Request struct {
	Frame

	conn   *bus.Connection
	msg    *bus.Message
	device string

	mu        sync.Mutex
	responded bool
}

// NewRequest unpacks a bus message carrying a Frame. device is used as the
// src of the response.
func NewRequest(conn *bus.Connection, msg *bus.Message, device string) (*Request, error) {
	f, err := decodeFrame(msg.Payload)
	if err != nil {
		return nil, err
	}
	if f.Method == "" && msg.Topic.Len() == 2 {
		if m, ok := msg.Topic.At(1).(string); ok {
			f.Method = m
		}
	}
	return &Request{Frame: f, conn: conn, msg: msg, device: device}, nil
}

// Respond sends result, JSON encoded, as the reply.
func (r *Request) Respond(result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return &errcode.E{C: errcode.InvalidPayload, Op: "rpc.respond", Err: err}
	}
	return r.send(Response{Result: raw})
}

// RespondError sends an error reply.
func (r *Request) RespondError(code int, msg string) error {
	return r.send(Response{Error: &Error{Code: code, Message: msg}})
}

// Responded reports whether a reply has been sent.
func (r *Request) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

func (r *Request) send(resp Response) error {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return errcode.AlreadyResponded
	}
	r.responded = true
	r.mu.Unlock()

	resp.ID = r.ID
	resp.Src = r.device
	resp.Dst = r.Src
	if !r.msg.CanReply() {
		return nil
	}
	r.conn.Reply(r.msg, resp, false)
	return nil
}

// Call publishes f on the method's topic and waits for the reply. When ctx
// expires first the error is errcode.Timeout.
func Call(ctx context.Context, conn *bus.Connection, f Frame) (Response, error) {
	if f.Method == "" {
		return Response{}, &errcode.E{C: errcode.InvalidParams, Op: "rpc.call", Msg: "missing method"}
	}
	reply, err := conn.RequestWait(ctx, conn.NewMessage(Topic(f.Method), f, false))
	if err != nil {
		return Response{}, err
	}
	resp, ok := reply.Payload.(Response)
	if !ok {
		return Response{}, &errcode.E{C: errcode.InvalidPayload, Op: "rpc.call", Msg: "unexpected reply payload"}
	}
	return resp, nil
}

// Status maps a call outcome onto the HTTP-like status space of errcode.RPC.
func Status(resp Response, err error) int {
	if err != nil {
		return errcode.RPC(errcode.Of(err))
	}
	if resp.Error != nil {
		return resp.Error.Code
	}
	return 200
}

func decodeFrame(p any) (Frame, error) {
	switch v := p.(type) {
	case Frame:
		return v, nil
	case *Frame:
		if v == nil {
			break
		}
		return *v, nil
	case []byte:
		var f Frame
		if err := json.Unmarshal(v, &f); err != nil {
			return Frame{}, &errcode.E{C: errcode.InvalidPayload, Op: "rpc.decode", Err: err}
		}
		return f, nil
	case string:
		return decodeFrame([]byte(v))
	case nil:
		return Frame{}, nil
	}
	return Frame{}, &errcode.E{C: errcode.InvalidPayload, Op: "rpc.decode", Msg: "unsupported payload type"}
}
