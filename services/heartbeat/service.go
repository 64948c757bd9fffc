// Package heartbeat logs a periodic liveness line and serves Sys.GetInfo.
package heartbeat

import (
	"context"
	"runtime"
	"time"

	"dhtnode/bus"
	"dhtnode/services/rpc"
	"dhtnode/types"
	"dhtnode/x/logx"
	"dhtnode/x/timex"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

// Version is stamped at link time.
var Version = "dev"

const appName = "dhtnode"

type Dispatcher interface {
	AddHandler(method string, h rpc.Handler)
}

type Service struct {
	device string
	log    logx.Logger
	start  time.Time
	now    func() time.Time
}

func New(device string, log logx.Logger) *Service {
	if log == nil {
		log = logx.Nop{}
	}
	return &Service{device: device, log: log, start: time.Now(), now: time.Now}
}

// Info describes the running node.
func (s *Service) Info() types.SysInfo {
	return types.SysInfo{
		ID:        s.device,
		App:       appName,
		FWVersion: Version,
		Arch:      runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:    int64(s.now().Sub(s.start) / time.Second),
	}
}

// Register adds Sys.GetInfo.
func (s *Service) Register(d Dispatcher) {
	d.AddHandler("Sys.GetInfo", func(r *rpc.Request) { _ = r.Respond(s.Info()) })
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	// Disarmed until config says otherwise.
	tick := time.NewTimer(time.Hour)
	timex.DrainTimer(tick)
	tick.Stop()
	defer tick.Stop()
	var every time.Duration

	for {
		select {
		case <-ctx.Done():
			s.log.Debugf("heartbeat service stopping")
			return
		case t := <-tick.C:
			s.log.Debugf("%s heartbeat, up %ds", t.Format("15:04:05"), s.Info().Uptime)
			if every > 0 {
				tick.Reset(every)
			}
		case msg := <-cfgSub.Channel():
			iv, ok := interval(msg.Payload)
			if !ok {
				s.log.Errorf("heartbeat: bad config payload %v", msg.Payload)
				continue
			}
			every = timex.FromSeconds(iv)
			if every <= 0 {
				tick.Stop()
				timex.DrainTimer(tick)
				s.log.Debugf("heartbeat disabled")
				continue
			}
			timex.ResetTimer(tick, every)
			s.log.Debugf("heartbeat interval set to %d seconds", iv)
		}
	}
}

func interval(p any) (int, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m["interval"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
