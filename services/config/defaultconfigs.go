package config

// Embedded per-profile defaults. Key: profile name, val: raw JSON.

const cfgLinux = `{
  "device": {"id": "dhtnode"},
  "dht": {"pin": 4, "freq": 2, "model": "dht22"},
  "rpc": {"prefix": "DHT.", "stats": true, "timeout_ms": 2000},
  "http": {"enable": true, "addr": ":8080"},
  "mqtt": {
    "enable": false,
    "broker": "tcp://localhost:1883",
    "client_id": "",
    "username": "",
    "password": "",
    "keep_alive_ms": 30000
  },
  "uart": {"enable": false, "port": "/dev/ttyUSB0", "baud": 115200},
  "heartbeat": {"interval": 10},
  "log": {"level": "info"}
}`

const cfgPico = `{
  "device": {"id": "pico-dht"},
  "dht": {"pin": 14, "freq": 2, "model": "dht22"},
  "rpc": {"prefix": "DHT.", "stats": true, "timeout_ms": 2000},
  "http": {"enable": false},
  "mqtt": {"enable": false},
  "uart": {"enable": true, "baud": 115200, "tx_pin": 0, "rx_pin": 1},
  "heartbeat": {"interval": 2},
  "log": {"level": "info"}
}`

var embeddedConfigs = map[string][]byte{
	"linux": []byte(cfgLinux),
	"pico":  []byte(cfgPico),
}
