package config

import (
	"flag"
	"io"
)

// Flags holds the command line surface. Only flags that were set on the
// command line turn into overrides.
type Flags struct {
	Profile     string
	ShowVersion bool
	Overrides   []Override
}

// FromFlags parses args (without the program name).
func FromFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("dhtnode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		out Flags
		c   Config
	)
	fs.StringVar(&out.Profile, "profile", "linux", "embedded config profile")
	fs.BoolVar(&out.ShowVersion, "app-version", false, "show version information")

	fs.StringVar(&c.Device.ID, "device-id", "", "device id used as RPC src and MQTT topic root")

	fs.IntVar(&c.DHT.Pin, "dht-pin", 0, "sensor GPIO number")
	fs.IntVar(&c.DHT.Freq, "dht-freq", 0, "poll period in seconds")
	fs.StringVar(&c.DHT.Model, "dht-model", "", "dht11 or dht22")

	fs.StringVar(&c.RPC.Prefix, "rpc-prefix", "", "RPC method prefix, e.g. DHT.")
	fs.BoolVar(&c.RPC.Stats, "rpc-stats", false, "expose Stats.Read")
	fs.IntVar(&c.RPC.TimeoutMS, "rpc-timeout-ms", 0, "RPC reply timeout for transports")

	fs.BoolVar(&c.HTTP.Enable, "http-enable", false, "enable HTTP RPC channel")
	fs.StringVar(&c.HTTP.Addr, "http-addr", "", "HTTP listen address")

	fs.BoolVar(&c.MQTT.Enable, "mqtt-enable", false, "enable MQTT RPC channel")
	fs.StringVar(&c.MQTT.Broker, "mqtt-broker", "", "MQTT broker URI")
	fs.StringVar(&c.MQTT.ClientID, "mqtt-client-id", "", "MQTT client id")
	fs.StringVar(&c.MQTT.Username, "mqtt-username", "", "MQTT username")
	fs.StringVar(&c.MQTT.Password, "mqtt-password", "", "MQTT password")

	fs.BoolVar(&c.UART.Enable, "uart-enable", false, "enable UART RPC channel")
	fs.StringVar(&c.UART.Port, "uart-port", "", "serial device path (e.g., /dev/ttyUSB0)")
	fs.IntVar(&c.UART.Baud, "uart-baud", 0, "serial baud rate")

	fs.IntVar(&c.Heartbeat.Interval, "heartbeat-interval", 0, "heartbeat period in seconds, 0 disables")
	fs.StringVar(&c.Log.Level, "log-level", "", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	set := map[string]Override{
		"device-id":          func(x *Config) { x.Device.ID = c.Device.ID },
		"dht-pin":            func(x *Config) { x.DHT.Pin = c.DHT.Pin },
		"dht-freq":           func(x *Config) { x.DHT.Freq = c.DHT.Freq },
		"dht-model":          func(x *Config) { x.DHT.Model = c.DHT.Model },
		"rpc-prefix":         func(x *Config) { x.RPC.Prefix = c.RPC.Prefix },
		"rpc-stats":          func(x *Config) { x.RPC.Stats = c.RPC.Stats },
		"rpc-timeout-ms":     func(x *Config) { x.RPC.TimeoutMS = c.RPC.TimeoutMS },
		"http-enable":        func(x *Config) { x.HTTP.Enable = c.HTTP.Enable },
		"http-addr":          func(x *Config) { x.HTTP.Addr = c.HTTP.Addr },
		"mqtt-enable":        func(x *Config) { x.MQTT.Enable = c.MQTT.Enable },
		"mqtt-broker":        func(x *Config) { x.MQTT.Broker = c.MQTT.Broker },
		"mqtt-client-id":     func(x *Config) { x.MQTT.ClientID = c.MQTT.ClientID },
		"mqtt-username":      func(x *Config) { x.MQTT.Username = c.MQTT.Username },
		"mqtt-password":      func(x *Config) { x.MQTT.Password = c.MQTT.Password },
		"uart-enable":        func(x *Config) { x.UART.Enable = c.UART.Enable },
		"uart-port":          func(x *Config) { x.UART.Port = c.UART.Port },
		"uart-baud":          func(x *Config) { x.UART.Baud = c.UART.Baud },
		"heartbeat-interval": func(x *Config) { x.Heartbeat.Interval = c.Heartbeat.Interval },
		"log-level":          func(x *Config) { x.Log.Level = c.Log.Level },
	}
	fs.Visit(func(f *flag.Flag) {
		if o, ok := set[f.Name]; ok {
			out.Overrides = append(out.Overrides, o)
		}
	})
	return out, nil
}
