// Package config resolves the node configuration from embedded per-profile
// JSON plus overrides, and publishes it on the bus as retained
// config/<key> messages.
package config

import (
	"context"
	"encoding/json"
	"strings"

	"dhtnode/bus"
	drv "dhtnode/drivers/dht"
	"dhtnode/errcode"
	"dhtnode/services/rpc"
	"dhtnode/x/strx"
)

const (
	configPrefix = "config"
	redacted     = "***"
)

// EmbeddedConfigLookup allows overriding how profiles are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	b, ok := embeddedConfigs[profile]
	return b, ok
}

type Config struct {
	Device    Device    `json:"device"`
	DHT       DHT       `json:"dht"`
	RPC       RPC       `json:"rpc"`
	HTTP      HTTP      `json:"http"`
	MQTT      MQTT      `json:"mqtt"`
	UART      UART      `json:"uart"`
	Heartbeat Heartbeat `json:"heartbeat"`
	Log       Log       `json:"log"`
}

type Device struct {
	ID string `json:"id"`
}

type DHT struct {
	Pin   int    `json:"pin"`
	Freq  int    `json:"freq"` // seconds
	Model string `json:"model"`
}

type RPC struct {
	Prefix    string `json:"prefix"`
	Stats     bool   `json:"stats"`
	TimeoutMS int    `json:"timeout_ms"`
}

type HTTP struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr,omitempty"`
}

type MQTT struct {
	Enable      bool   `json:"enable"`
	Broker      string `json:"broker,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	KeepAliveMS int    `json:"keep_alive_ms,omitempty"`
}

type UART struct {
	Enable bool   `json:"enable"`
	Port   string `json:"port,omitempty"` // host serial device
	Baud   int    `json:"baud"`
	TxPin  int    `json:"tx_pin,omitempty"` // MCU only
	RxPin  int    `json:"rx_pin,omitempty"`
}

type Heartbeat struct {
	Interval int `json:"interval"` // seconds; 0 disables
}

type Log struct {
	Level string `json:"level"`
}

// Override mutates a decoded Config before validation.
type Override func(*Config)

// Load decodes the embedded profile, applies overrides in order and
// validates the result.
func Load(profile string, overrides ...Override) (Config, error) {
	raw, ok := EmbeddedConfigLookup(profile)
	if !ok || len(raw) == 0 {
		return Config{}, &errcode.E{C: errcode.InvalidParams, Op: "config.load", Msg: "no embedded config for profile " + profile}
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, &errcode.E{C: errcode.InvalidPayload, Op: "config.load", Err: err}
	}
	for _, o := range overrides {
		o(&c)
	}
	c.MQTT.ClientID = strx.Coalesce(c.MQTT.ClientID, c.Device.ID)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values no component could run with. The sensor pin is
// left to the driver, which reports an unknown pin at init.
func (c Config) Validate() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.validate", Msg: msg}
	}
	if c.Device.ID == "" {
		return bad("device.id is empty")
	}
	if _, err := c.DHTModel(); err != nil {
		return bad("dht.model: " + err.Error())
	}
	if c.RPC.TimeoutMS <= 0 {
		return bad("rpc.timeout_ms must be positive")
	}
	if c.Heartbeat.Interval < 0 {
		return bad("heartbeat.interval must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return bad("log.level " + c.Log.Level + " is not a level")
	}
	if c.MQTT.Enable && c.MQTT.Broker == "" {
		return bad("mqtt.broker is empty")
	}
	if c.UART.Enable && c.UART.Baud <= 0 {
		return bad("uart.baud must be positive")
	}
	return nil
}

// DHTModel parses dht.model.
func (c Config) DHTModel() (drv.Model, error) {
	switch strings.ToLower(c.DHT.Model) {
	case "", "dht22", "am2302":
		return drv.DHT22, nil
	case "dht11":
		return drv.DHT11, nil
	}
	return 0, errcode.InvalidParams
}

// Redacted returns a copy safe to expose over RPC.
func (c Config) Redacted() Config {
	if c.MQTT.Password != "" {
		c.MQTT.Password = redacted
	}
	return c
}

// Sections splits the config into its top-level keys, each decoded to
// generic JSON values (map[string]any, float64, ...).
func (c Config) Sections() (map[string]any, error) {
	b, err := json.Marshal(c.Redacted())
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type Dispatcher interface {
	AddHandler(method string, h rpc.Handler)
}

type Service struct {
	cfg Config
}

func NewService(c Config) *Service { return &Service{cfg: c} }

// Publish sends each top-level section retained on config/<key>.
func (s *Service) Publish(conn *bus.Connection) error {
	m, err := s.cfg.Sections()
	if err != nil {
		return &errcode.E{C: errcode.Error, Op: "config.publish", Err: err}
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// Start publishes the config unless ctx is already done.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Publish(conn)
}

// Register adds Config.Get, which returns the effective config with
// secrets redacted.
func (s *Service) Register(d Dispatcher) {
	d.AddHandler("Config.Get", func(r *rpc.Request) {
		_ = r.Respond(s.cfg.Redacted())
	})
}
