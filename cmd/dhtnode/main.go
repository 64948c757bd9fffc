//go:build !(rp2040 || rp2350)

// Command dhtnode polls a DHT sensor on a Linux board and serves its
// readings over HTTP, MQTT and serial RPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"periph.io/x/host/v3"

	"dhtnode/bus"
	"dhtnode/errcode"
	"dhtnode/services/config"
	"dhtnode/services/dht"
	"dhtnode/services/evloop"
	"dhtnode/services/heartbeat"
	"dhtnode/services/rpc/httprpc"
	"dhtnode/services/rpc/mqttrpc"
	"dhtnode/services/rpc/uartrpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, dht.OpenDevice))
}

func run(ctx context.Context, args []string, stderr io.Writer, open dht.Opener) int {
	flags, err := config.FromFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if flags.ShowVersion {
		fmt.Fprintln(stderr, "dhtnode", heartbeat.Version)
		return 0
	}

	logger := log.NewWithOptions(stderr, log.Options{ReportTimestamp: true, Prefix: "dhtnode"})

	cfg, err := config.Load(flags.Profile, flags.Overrides...)
	if err != nil {
		logger.Error("config", "err", err)
		return 1
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}

	if _, err := host.Init(); err != nil {
		logger.Warn("periph host init", "err", err)
	}

	model, _ := cfg.DHTModel()
	b := bus.NewBus(16)
	loop := evloop.New(b.NewConnection("evloop"), cfg.Device.ID, logger)

	app := dht.New(dht.Options{
		Pin:    cfg.DHT.Pin,
		Freq:   cfg.DHT.Freq,
		Model:  model,
		Prefix: cfg.RPC.Prefix,
		Stats:  cfg.RPC.Stats,
	}, open, logger)
	if err := app.Init(loop, loop); err != nil {
		logger.Error("init failed", "code", errcode.Of(err), "err", err)
		return 1
	}
	logger.Info("dht ready", "pin", cfg.DHT.Pin, "freq", cfg.DHT.Freq, "methods", app.Methods())

	cfgSvc := config.NewService(cfg)
	cfgSvc.Register(loop)
	if err := cfgSvc.Start(ctx, b.NewConnection("config")); err != nil {
		logger.Error("config publish", "err", err)
		return 1
	}

	hb := heartbeat.New(cfg.Device.ID, logger)
	hb.Register(loop)

	timeout := time.Duration(cfg.RPC.TimeoutMS) * time.Millisecond
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(gCtx) })
	g.Go(func() error { return hb.Start(gCtx, b.NewConnection("heartbeat")) })

	if cfg.HTTP.Enable {
		srv := httprpc.New(b.NewConnection("http"), timeout, logger)
		g.Go(func() error { return srv.Run(gCtx, cfg.HTTP.Addr) })
	}
	if cfg.MQTT.Enable {
		m := mqttrpc.New(b.NewConnection("mqtt"), mqttrpc.Options{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			KeepAlive: time.Duration(cfg.MQTT.KeepAliveMS) * time.Millisecond,
			Device:    cfg.Device.ID,
			Timeout:   timeout,
		}, logger)
		g.Go(func() error { return m.Run(gCtx) })
	}
	if cfg.UART.Enable {
		u := uartrpc.New(b.NewConnection("uart"), uartrpc.Config{
			Port:    cfg.UART.Port,
			Baud:    cfg.UART.Baud,
			Device:  cfg.Device.ID,
			Timeout: timeout,
		}, logger)
		g.Go(func() error { return u.Run(gCtx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stopped", "err", err)
		return 1
	}
	logger.Info("shutdown")
	return 0
}
