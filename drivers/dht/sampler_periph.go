//go:build !(rp2040 || rp2350)

package dht

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"dhtnode/errcode"
)

const (
	// preamble (low+high) + 40 bits × (low+high) + trailing low
	maxEdges    = 2 + 80 + 2
	edgeTimeout = time.Millisecond
)

// Open returns a Device on the host GPIO with the given number. The pin is
// resolved through periph's registry, so host.Init must have run.
func Open(pin int, m Model) (*Device, error) {
	if m != DHT11 && m != DHT22 {
		return nil, errModel
	}
	if pin < 0 {
		return nil, fmt.Errorf("dht: gpio %d: %w", pin, errcode.UnknownPin)
	}
	p := gpioreg.ByName(strconv.Itoa(pin))
	if p == nil {
		return nil, fmt.Errorf("dht: gpio %d: %w", pin, errcode.UnknownPin)
	}
	// Idle high through the pull-up until the first handshake.
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("dht: gpio %d: %w", pin, err)
	}
	return New(newPeriphSampler(p, m), m, p.Name()), nil
}

// periphSampler bit-bangs the single-wire protocol on a periph pin.
type periphSampler struct {
	mu    sync.Mutex
	pin   gpio.PinIO
	model Model
}

func newPeriphSampler(pin gpio.PinIO, m Model) *periphSampler {
	return &periphSampler{pin: pin, model: m}
}

func (s *periphSampler) Sample() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pulses, err := s.capture()
	if err != nil {
		return Reading{}, err
	}
	f, err := DecodePulses(pulses)
	if err != nil {
		return Reading{}, err
	}
	return Decode(s.model, f)
}

// capture runs the start handshake and records the sensor's reply as pulses.
func (s *periphSampler) capture() ([]Pulse, error) {
	if err := s.pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("dht: handshake: %w", err)
	}
	time.Sleep(s.model.Handshake())
	if err := s.pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("dht: listen: %w", err)
	}
	defer s.pin.In(gpio.PullUp, gpio.NoEdge)

	pulses := make([]Pulse, 0, maxEdges)
	level := s.pin.Read()
	last := time.Now()
	for len(pulses) < maxEdges {
		if !s.pin.WaitForEdge(edgeTimeout) {
			break
		}
		now := time.Now()
		pulses = append(pulses, Pulse{High: bool(level), Duration: now.Sub(last)})
		level = s.pin.Read()
		last = now
	}
	return pulses, nil
}
