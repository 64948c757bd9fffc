// Package dht polls a DHT temperature/humidity sensor on a timer, logs each
// reading and serves the latest values over RPC.
//
// The App owns a single sensor handle for the process lifetime. The timer
// callback and the RPC handlers only read from it. All of them are expected
// to run on one goroutine (see evloop.Loop), so App keeps no locks.
//
// A failed read (NaN from the driver, or any other non-finite value) is
// logged and the RPC caller gets no response at all; transports surface that
// as a timeout.
package dht

import (
	"math"
	"time"

	drv "dhtnode/drivers/dht"
	"dhtnode/errcode"
	"dhtnode/services/rpc"
	"dhtnode/types"
	"dhtnode/x/timex"
)

const (
	msgReadFailed = "Failed to read data from sensor"
	msgReading    = "Temperature: %.2f *C Humidity: %.2f %%"
)

// Sensor is the read side of a DHT handle. Both methods return NaN when the
// sensor could not be read. Infinities are treated the same way.
type Sensor interface {
	Temperature() float32
	Humidity() float32
}

// Opener creates the sensor handle for a pin.
type Opener func(pin int, m drv.Model) (Sensor, error)

// OpenDevice opens a driver Device.
func OpenDevice(pin int, m drv.Model) (Sensor, error) {
	d, err := drv.Open(pin, m)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Scheduler arms timers whose callbacks run on the caller's loop.
type Scheduler interface {
	SetTimer(interval time.Duration, repeat bool, cb func()) types.TimerID
}

// Dispatcher registers RPC handlers.
type Dispatcher interface {
	AddHandler(method string, h rpc.Handler)
}

type Logger interface {
	Infof(format string, args ...any)
}

// Options configures an App.
type Options struct {
	Pin   int      // GPIO number
	Freq  int      // poll period in seconds
	Model drv.Model

	// Prefix is prepended to every method name ("DHT." gives DHT.Temp.Read).
	Prefix string
	// Stats enables the combined Stats.Read method.
	Stats bool
}

func DefaultOptions() Options {
	return Options{Pin: 14, Freq: 2, Model: drv.DHT22, Prefix: "DHT.", Stats: true}
}

type App struct {
	opts   Options
	open   Opener
	log    Logger
	sensor Sensor
	timer  types.TimerID
}

func New(opts Options, open Opener, log Logger) *App {
	if open == nil {
		open = OpenDevice
	}
	if opts.Model == 0 {
		opts.Model = drv.DHT22
	}
	return &App{opts: opts, open: open, log: log}
}

// Init opens the sensor, then arms the poll timer and registers the RPC
// methods. On failure nothing is registered and the error carries
// errcode.InitFailed.
func (a *App) Init(s Scheduler, d Dispatcher) error {
	if a.opts.Freq <= 0 {
		return &errcode.E{C: errcode.InitFailed, Op: "dht.init", Msg: "poll frequency must be positive"}
	}
	sensor, err := a.open(a.opts.Pin, a.opts.Model)
	if err != nil {
		return &errcode.E{C: errcode.InitFailed, Op: "dht.init", Err: err}
	}
	if sensor == nil {
		return &errcode.E{C: errcode.InitFailed, Op: "dht.init", Msg: "no sensor handle"}
	}
	a.sensor = sensor

	a.timer = s.SetTimer(timex.FromSeconds(a.opts.Freq), true, a.Poll)

	d.AddHandler(a.opts.Prefix+"Temp.Read", a.readTemp)
	d.AddHandler(a.opts.Prefix+"Humidity.Read", a.readHumidity)
	if a.opts.Stats {
		d.AddHandler(a.opts.Prefix+"Stats.Read", a.readStats)
	}
	return nil
}

// Methods lists the method names Init registers.
func (a *App) Methods() []string {
	m := []string{a.opts.Prefix + "Temp.Read", a.opts.Prefix + "Humidity.Read"}
	if a.opts.Stats {
		m = append(m, a.opts.Prefix+"Stats.Read")
	}
	return m
}

// Timer returns the id of the poll timer, zero before Init succeeds.
func (a *App) Timer() types.TimerID { return a.timer }

// Poll reads both values and logs them.
func (a *App) Poll() {
	t := a.sensor.Temperature()
	h := a.sensor.Humidity()
	if !finite(t) || !finite(h) {
		a.log.Infof(msgReadFailed)
		return
	}
	a.log.Infof(msgReading, t, h)
}

func (a *App) readTemp(r *rpc.Request) {
	a.respondValue(r, a.sensor.Temperature())
}

func (a *App) readHumidity(r *rpc.Request) {
	a.respondValue(r, a.sensor.Humidity())
}

func (a *App) respondValue(r *rpc.Request, v float32) {
	if !finite(v) {
		a.log.Infof(msgReadFailed)
		return
	}
	a.respond(r, types.ValueReply{Value: types.Fixed2(v)})
}

func (a *App) readStats(r *rpc.Request) {
	h := a.sensor.Humidity()
	t := a.sensor.Temperature()
	if !finite(t) || !finite(h) {
		a.log.Infof(msgReadFailed)
		return
	}
	a.respond(r, types.StatsReply{Temp: types.Fixed2(t), Humidity: types.Fixed2(h)})
}

func (a *App) respond(r *rpc.Request, v any) {
	if err := r.Respond(v); err != nil {
		a.log.Infof("%s: %v", r.Method, err)
	}
}

func finite(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
