//go:build !(rp2040 || rp2350)

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	drv "dhtnode/drivers/dht"
	"dhtnode/services/dht"
)

type staticSensor struct{ t, h float32 }

func (s staticSensor) Temperature() float32 { return s.t }
func (s staticSensor) Humidity() float32    { return s.h }

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return "127.0.0.1:" + strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func TestRun_InitFailureExits1(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-dht-pin", "-1", "-http-enable=false"}, &stderr, dht.OpenDevice)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "init failed")
}

func TestRun_BadConfigExits1(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"-log-level", "loud"}, &stderr, dht.OpenDevice))
	assert.Equal(t, 2, run(context.Background(), []string{"-no-such-flag"}, &stderr, dht.OpenDevice))
}

func TestRun_ServesHTTPAndShutsDown(t *testing.T) {
	addr := freePort(t)
	open := func(int, drv.Model) (dht.Sensor, error) { return staticSensor{23.456, 55.2}, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"-http-addr", addr, "-dht-freq", "1", "-heartbeat-interval", "0"}, io.Discard, open)
	}()

	var body []byte
	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + addr + "/rpc/DHT.Temp.Read")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		body, _ = io.ReadAll(res.Body)
		return res.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
	assert.JSONEq(t, `{"value":23.46}`, string(body))

	res, err := http.Get("http://" + addr + "/rpc/RPC.List")
	require.NoError(t, err)
	var methods []string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&methods))
	res.Body.Close()
	assert.Contains(t, methods, "DHT.Stats.Read")
	assert.Contains(t, methods, "Sys.GetInfo")
	assert.Contains(t, methods, "Config.Get")

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
