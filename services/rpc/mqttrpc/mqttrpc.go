// Package mqttrpc serves RPC frames received on <device>/rpc and publishes
// responses to <src>/rpc.
package mqttrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"dhtnode/bus"
	"dhtnode/errcode"
	"dhtnode/services/rpc"
	"dhtnode/x/logx"
)

type Options struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	Device    string        // topic root for inbound frames
	Timeout   time.Duration // reply wait per request
}

func (o Options) RequestTopic() string { return o.Device + "/rpc" }

type Service struct {
	conn   *bus.Connection
	opts   Options
	log    logx.Logger
	client mqtt.Client

	// base bounds every in-flight call. It is fixed in New and cancelled
	// when Run's context ends or on Close.
	base   context.Context
	cancel context.CancelFunc
}

func New(conn *bus.Connection, o Options, log logx.Logger) *Service {
	if log == nil {
		log = logx.Nop{}
	}
	base, cancel := context.WithCancel(context.Background())
	srv := &Service{conn: conn, opts: o, log: log, base: base, cancel: cancel}

	opts := mqtt.NewClientOptions().AddBroker(o.Broker).SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionNotificationHandler(func(_ mqtt.Client, notification mqtt.ConnectionNotification) {
		switch n := notification.(type) {
		case mqtt.ConnectionNotificationConnected:
			log.Debugf("mqttrpc: connected")
		case mqtt.ConnectionNotificationConnecting:
			log.Debugf("mqttrpc: connecting, reconnect=%v attempt=%d", n.IsReconnect, n.Attempt)
		case mqtt.ConnectionNotificationFailed:
			log.Debugf("mqttrpc: connection failed: %v", n.Reason)
		case mqtt.ConnectionNotificationLost:
			log.Debugf("mqttrpc: connection lost: %v", n.Reason)
		}
	})
	// Subscriptions are restored on reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if t := c.Subscribe(o.RequestTopic(), 1, srv.messageHandler()); t.Wait() && t.Error() != nil {
			log.Errorf("mqttrpc: subscribe %s: %v", o.RequestTopic(), t.Error())
		}
	})

	srv.client = mqtt.NewClient(opts)
	return srv
}

// Run connects and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttrpc: connect: %w", token.Error())
	}
	s.log.Infof("mqttrpc: serving %s on %s", s.opts.RequestTopic(), s.opts.Broker)

	<-ctx.Done()
	return s.Close()
}

func (s *Service) Close() error {
	s.cancel()
	if !s.client.IsConnectionOpen() {
		return nil
	}
	if token := s.client.Unsubscribe(s.opts.RequestTopic()); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttrpc: unsubscribe: %w", token.Error())
	}
	s.client.Disconnect(250)
	return nil
}

func (s *Service) messageHandler() mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		go func() {
			topic, body, ok := s.handle(s.base, payload)
			if !ok {
				return
			}
			if t := c.Publish(topic, 1, false, body); t.Wait() && t.Error() != nil {
				s.log.Errorf("mqttrpc: publish %s: %v", topic, t.Error())
			}
		}()
	}
}

// handle runs one inbound frame and returns where and what to publish.
// Frames without src cannot be answered and are dropped, as are calls the
// handler never replied to.
func (s *Service) handle(ctx context.Context, payload []byte) (string, []byte, bool) {
	var f rpc.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		s.log.Debugf("mqttrpc: bad frame: %v", err)
		return "", nil, false
	}
	if f.Src == "" {
		s.log.Debugf("mqttrpc: dropping %s: no src", f.Method)
		return "", nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	resp, err := rpc.Call(ctx, s.conn, f)
	switch {
	case errors.Is(err, errcode.Timeout):
		s.log.Debugf("mqttrpc: %s: no reply", f.Method)
		return "", nil, false
	case errors.Is(err, context.Canceled):
		return "", nil, false
	case err != nil:
		resp = rpc.Response{ID: f.ID, Src: s.opts.Device, Dst: f.Src, Error: &rpc.Error{
			Code:    errcode.RPC(errcode.Of(err)),
			Message: err.Error(),
		}}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		s.log.Errorf("mqttrpc: encode reply: %v", err)
		return "", nil, false
	}
	return f.Src + "/rpc", body, true
}
