package mqttrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhtnode/bus"
	"dhtnode/services/rpc"
)

func newService(t *testing.T) *Service {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("responder")
	sub := conn.Subscribe(rpc.Topic(bus.WildOne))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.Channel():
				req, err := rpc.NewRequest(conn, msg, "node-1")
				if err == nil && req.Method == "Humidity.Read" {
					_ = req.Respond(map[string]float64{"value": 55.2})
				}
			}
		}
	}()
	return New(b.NewConnection("mqtt"), Options{
		Broker:  "tcp://127.0.0.1:1",
		Device:  "node-1",
		Timeout: 50 * time.Millisecond,
	}, nil)
}

func TestHandle_RepliesToSrc(t *testing.T) {
	s := newService(t)
	topic, body, ok := s.handle(context.Background(), []byte(`{"id":5,"src":"mos","method":"Humidity.Read"}`))
	require.True(t, ok)
	assert.Equal(t, "mos/rpc", topic)
	assert.JSONEq(t, `{"id":5,"src":"node-1","dst":"mos","result":{"value":55.2}}`, string(body))
}

func TestHandle_DropsWithoutSrc(t *testing.T) {
	s := newService(t)
	_, _, ok := s.handle(context.Background(), []byte(`{"id":5,"method":"Humidity.Read"}`))
	assert.False(t, ok)
}

func TestHandle_DropsGarbage(t *testing.T) {
	s := newService(t)
	_, _, ok := s.handle(context.Background(), []byte(`not json`))
	assert.False(t, ok)
}

func TestHandle_NoReplyIsDropped(t *testing.T) {
	s := newService(t)
	_, _, ok := s.handle(context.Background(), []byte(`{"id":1,"src":"mos","method":"Temp.Read"}`))
	assert.False(t, ok)
}

func TestHandle_CallErrorIsReported(t *testing.T) {
	s := newService(t)
	topic, body, ok := s.handle(context.Background(), []byte(`{"id":2,"src":"mos"}`))
	require.True(t, ok)
	assert.Equal(t, "mos/rpc", topic)
	assert.Contains(t, string(body), `"code":400`)
}

func TestRequestTopic(t *testing.T) {
	assert.Equal(t, "esp-1/rpc", Options{Device: "esp-1"}.RequestTopic())
}

func TestRun_ConnectFailure(t *testing.T) {
	s := newService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, s.Run(ctx))
}

func TestClose_CancelsInflightCalls(t *testing.T) {
	s := newService(t)
	s.opts.Timeout = 10 * time.Second

	type result struct{ ok bool }
	done := make(chan result, 1)
	go func() {
		_, _, ok := s.handle(s.base, []byte(`{"id":3,"src":"mos","method":"Temp.Read"}`))
		done <- result{ok}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case r := <-done:
		assert.False(t, r.ok)
	case <-time.After(time.Second):
		t.Fatal("in-flight call outlived Close")
	}
}

func TestRun_CancelStopsInflightCalls(t *testing.T) {
	s := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.Run(ctx)

	select {
	case <-s.base.Done():
	case <-time.After(time.Second):
		t.Fatal("base context not cancelled with Run's context")
	}
}
