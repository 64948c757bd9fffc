//go:build rp2040 || rp2350

// Command pico-dht is the Raspberry Pi Pico build of the DHT node. RPC is
// served over UART as newline-delimited JSON frames.
package main

import (
	"context"
	"time"

	"dhtnode/bus"
	"dhtnode/services/config"
	"dhtnode/services/dht"
	"dhtnode/services/evloop"
	"dhtnode/services/heartbeat"
	"dhtnode/services/rpc/uartrpc"
	"dhtnode/x/logx"
)

// console prints through the runtime so logs reach USB CDC.
type console struct{}

func (console) Write(p []byte) (int, error) {
	print(string(p))
	return len(p), nil
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	cfg, err := config.Load("pico")
	if err != nil {
		println("config:", err.Error())
		return
	}
	log := &logx.Console{W: console{}, Level: logx.InfoLevel}
	if cfg.Log.Level == "debug" {
		log.Level = logx.DebugLevel
	}

	model, _ := cfg.DHTModel()
	ctx := context.Background()
	b := bus.NewBus(8)
	loop := evloop.New(b.NewConnection("evloop"), cfg.Device.ID, log)

	app := dht.New(dht.Options{
		Pin:    cfg.DHT.Pin,
		Freq:   cfg.DHT.Freq,
		Model:  model,
		Prefix: cfg.RPC.Prefix,
		Stats:  cfg.RPC.Stats,
	}, dht.OpenDevice, log)
	if err := app.Init(loop, loop); err != nil {
		println("init failed:", err.Error())
		return
	}

	cfgSvc := config.NewService(cfg)
	cfgSvc.Register(loop)
	_ = cfgSvc.Start(ctx, b.NewConnection("config"))

	hb := heartbeat.New(cfg.Device.ID, log)
	hb.Register(loop)
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	if cfg.UART.Enable {
		u := uartrpc.New(b.NewConnection("uart"), uartrpc.Config{
			Baud:    cfg.UART.Baud,
			TxPin:   cfg.UART.TxPin,
			RxPin:   cfg.UART.RxPin,
			Device:  cfg.Device.ID,
			Timeout: time.Duration(cfg.RPC.TimeoutMS) * time.Millisecond,
		}, log)
		go func() { _ = u.Run(ctx) }()
	}

	_ = loop.Run(ctx)
}
