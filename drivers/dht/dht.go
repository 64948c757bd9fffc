// Package dht reads AOSONG DHT11/DHT22 (AM2302) temperature and humidity
// sensors over their single-wire protocol.
//
// A Device caches the last sample for the model's minimum sampling interval,
// so callers may read temperature and humidity back to back without a second
// bus transaction. Read failures surface as NaN from Temperature/Humidity.
package dht

import (
	"errors"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"

	"dhtnode/errcode"
	"dhtnode/x/fmtx"
)

// Model selects the sensor variant.
type Model uint8

const (
	DHT11 Model = iota + 1
	DHT22
	AM2302 = DHT22
)

func (m Model) String() string {
	switch m {
	case DHT11:
		return "DHT11"
	case DHT22:
		return "DHT22"
	default:
		return "unknown"
	}
}

// Handshake is how long the host holds the line low to start a transfer.
func (m Model) Handshake() time.Duration {
	return 18 * time.Millisecond
}

// MinInterval is the shortest period between two conversions.
func (m Model) MinInterval() time.Duration {
	if m == DHT11 {
		return time.Second
	}
	return 2 * time.Second
}

var (
	errChecksum   = errors.New("dht: checksum mismatch")
	errShortFrame = errors.New("dht: short frame")
	errRange      = errors.New("dht: reading out of range")
	errModel      = errors.New("dht: unknown model")
	errHalted     = errors.New("dht: sense continuous already running")
)

// Reading holds one conversion in tenths, as the sensor reports it.
type Reading struct {
	DeciC  int16  // 231 => 23.1 °C
	DeciRH uint16 // 552 => 55.2 %RH
}

func (r Reading) Celsius() float32 { return float32(r.DeciC) / 10 }
func (r Reading) RH() float32      { return float32(r.DeciRH) / 10 }

// Frame is the raw 40-bit transfer: RH hi, RH lo, T hi, T lo, checksum.
type Frame [5]byte

// Decode validates the checksum and converts a frame for the given model.
func Decode(m Model, f Frame) (Reading, error) {
	if f[0]+f[1]+f[2]+f[3] != f[4] {
		return Reading{}, errChecksum
	}
	var r Reading
	switch m {
	case DHT22:
		r.DeciRH = uint16(f[0])<<8 | uint16(f[1])
		r.DeciC = int16(f[2]&0x7f)<<8 | int16(f[3])
		if f[2]&0x80 != 0 {
			r.DeciC = -r.DeciC
		}
		if r.DeciRH > 1000 || r.DeciC < -400 || r.DeciC > 800 {
			return Reading{}, errRange
		}
	case DHT11:
		r.DeciRH = uint16(f[0])*10 + uint16(f[1]%10)
		r.DeciC = int16(f[2])*10 + int16(f[3]&0x0f)
		if f[3]&0x80 != 0 {
			r.DeciC = -r.DeciC
		}
		if r.DeciRH > 1000 || r.DeciC > 600 {
			return Reading{}, errRange
		}
	default:
		return Reading{}, errModel
	}
	return r, nil
}

// Pulse is one level held on the data line and how long it lasted.
type Pulse struct {
	High     bool
	Duration time.Duration
}

// bitThreshold separates a 0 bit (26-28 µs high) from a 1 bit (70 µs high).
const bitThreshold = 50 * time.Microsecond

// DecodePulses extracts the 40 data bits from a captured line trace. The
// sensor's 80 µs response preamble precedes the data, so the last 40 high
// pulses carry the frame.
func DecodePulses(pulses []Pulse) (Frame, error) {
	var highs []time.Duration
	for _, p := range pulses {
		if p.High {
			highs = append(highs, p.Duration)
		}
	}
	if len(highs) < 40 {
		return Frame{}, &errcode.E{C: errcode.ReadFailed, Op: "dht.decode", Msg: fmtx.Sprint(len(highs)) + " bits", Err: errShortFrame}
	}
	highs = highs[len(highs)-40:]

	var f Frame
	for i, d := range highs {
		f[i/8] <<= 1
		if d > bitThreshold {
			f[i/8] |= 1
		}
	}
	return f, nil
}

// Sampler performs one conversion on the wire.
type Sampler interface {
	Sample() (Reading, error)
}

// Device represents a DHT sensor.
type Device struct {
	s     Sampler
	model Model
	name  string
	now   func() time.Time

	mu       sync.Mutex
	last     Reading
	lastErr  error
	lastAt   time.Time
	shutdown chan struct{}
}

// New wraps a sampler. name is used by String.
func New(s Sampler, m Model, name string) *Device {
	return &Device{s: s, model: m, name: name, now: time.Now}
}

// Read returns the cached conversion if it is younger than the model's
// MinInterval, otherwise samples the sensor.
func (d *Device) Read() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.lastAt.IsZero() && now.Sub(d.lastAt) < d.model.MinInterval() {
		return d.last, d.lastErr
	}
	d.last, d.lastErr = d.s.Sample()
	d.lastAt = now
	return d.last, d.lastErr
}

// Temperature returns °C, or NaN when the sensor could not be read.
func (d *Device) Temperature() float32 {
	r, err := d.Read()
	if err != nil {
		return float32(math.NaN())
	}
	return r.Celsius()
}

// Humidity returns %RH, or NaN when the sensor could not be read.
func (d *Device) Humidity() float32 {
	r, err := d.Read()
	if err != nil {
		return float32(math.NaN())
	}
	return r.RH()
}

// Sense implements physic.SenseEnv.
func (d *Device) Sense(env *physic.Env) error {
	env.Temperature = 0
	env.Pressure = 0
	env.Humidity = 0

	r, err := d.Read()
	if err != nil {
		return err
	}
	env.Temperature = physic.ZeroCelsius + physic.Temperature(r.DeciC)*(physic.Celsius/10)
	env.Humidity = physic.RelativeHumidity(r.DeciRH) * (physic.PercentRH / 10)
	return nil
}

// SenseContinuous returns a channel of readings taken every interval. The
// interval is raised to the model's MinInterval. Call Halt to stop.
func (d *Device) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < d.model.MinInterval() {
		interval = d.model.MinInterval()
	}
	d.mu.Lock()
	if d.shutdown != nil {
		d.mu.Unlock()
		return nil, errHalted
	}
	stop := make(chan struct{})
	d.shutdown = stop
	d.mu.Unlock()

	ch := make(chan physic.Env, 16)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var e physic.Env
				if err := d.Sense(&e); err == nil {
					select {
					case ch <- e:
					default:
					}
				}
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Device) Precision(env *physic.Env) {
	env.Pressure = 0
	if d.model == DHT11 {
		env.Temperature = physic.Celsius
		env.Humidity = physic.PercentRH
		return
	}
	env.Temperature = physic.Celsius / 10
	env.Humidity = physic.PercentRH / 10
}

// Halt stops a running SenseContinuous.
func (d *Device) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		close(d.shutdown)
		d.shutdown = nil
	}
	return nil
}

func (d *Device) String() string {
	return fmtx.Sprintf("%s{%s}", d.model, d.name)
}

// checkPin rejects GPIO numbers outside 0..max.
func checkPin(pin, max int) error {
	if pin < 0 || pin > max {
		return &errcode.E{C: errcode.UnknownPin, Op: "dht.open", Msg: "gpio " + fmtx.Sprint(pin)}
	}
	return nil
}

var _ conn.Resource = &Device{}
var _ physic.SenseEnv = &Device{}
