//go:build rp2040 || rp2350

package dht

import (
	"machine"

	"dhtnode/x/fmtx"

	tdht "tinygo.org/x/drivers/dht"
)

// Open returns a Device on an RP2 GPIO pin using the TinyGo driver.
func Open(pin int, m Model) (*Device, error) {
	if err := checkPin(pin, maxGPIO); err != nil {
		return nil, err
	}
	var dt tdht.DeviceType
	switch m {
	case DHT11:
		dt = tdht.DHT11
	case DHT22:
		dt = tdht.DHT22
	default:
		return nil, errModel
	}
	d := tdht.New(machine.Pin(pin), dt)
	// The Device wrapper owns the sampling cadence.
	d.Configure(tdht.UpdatePolicy{UpdateAutomatically: false})
	return New(&tinygoSampler{dev: d}, m, "GP"+fmtx.Sprint(pin)), nil
}

type tinygoSampler struct {
	dev tdht.Device
}

func (s *tinygoSampler) Sample() (Reading, error) {
	if err := s.dev.ReadMeasurements(); err != nil {
		return Reading{}, err
	}
	t, h, err := s.dev.Measurements()
	if err != nil {
		return Reading{}, err
	}
	return Reading{DeciC: t, DeciRH: h}, nil
}
