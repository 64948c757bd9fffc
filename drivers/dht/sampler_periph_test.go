//go:build !(rp2040 || rp2350)

package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"dhtnode/errcode"
)

func TestOpen_UnknownPin(t *testing.T) {
	_, err := Open(-1, DHT22)
	assert.ErrorIs(t, err, errcode.UnknownPin)

	_, err = Open(9931, DHT22)
	assert.ErrorIs(t, err, errcode.UnknownPin)
}

func TestOpen_RegisteredPin(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO9914", Num: 9914, EdgesChan: make(chan gpio.Level)}
	require.NoError(t, gpioreg.Register(p))
	t.Cleanup(func() { _ = gpioreg.Unregister(p.Name()) })

	d, err := Open(9914, DHT22)
	require.NoError(t, err)
	assert.Equal(t, "DHT22{GPIO9914}", d.String())
	assert.Equal(t, gpio.PullUp, p.P)
}

func TestPeriphSampler_SilentLine(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO9915", Num: 9915, EdgesChan: make(chan gpio.Level)}
	s := newPeriphSampler(p, DHT22)

	_, err := s.Sample()
	assert.ErrorIs(t, err, errShortFrame)
	// Line is released back to the pull-up after the attempt.
	assert.Equal(t, gpio.PullUp, p.P)
}
