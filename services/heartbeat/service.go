package heartbeat

import (
	"context"
	"time"

	"dalicode-go/bus"
	"dalicode-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicDaliState       = bus.T("dali", "state")
)

// Service logs a periodic liveness line carrying the last known DALI
// service state, so a serial console shows the controller is alive even
// when the lighting bus is quiet.
type Service struct{}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)
	daliSub := conn.Subscribe(topicDaliState)
	defer conn.Unsubscribe(daliSub)

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	daliLevel := "unknown"

	for {
		select {
		case <-ctx.Done():
			println("Info: heartbeat service stopping")
			return
		case t := <-tick.C:
			println("Info:", t.Format("15:04:05"), "alive, dali:", daliLevel)
		case msg := <-daliSub.Channel():
			switch p := msg.Payload.(type) {
			case types.ServiceState:
				daliLevel = p.Level
			case map[string]any:
				if lv, ok := p["level"].(string); ok {
					daliLevel = lv
				}
			}
		case msg := <-cfgSub.Channel():
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := m["interval"]; ok {
					if interval, ok := asSeconds(iv); ok {
						tick.Reset(interval)
						println("Info: heartbeat interval set to", int64(interval/time.Second), "seconds")
					}
				}
			}
		}
	}
}

func asSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case float64:
		return time.Duration(n) * time.Second, true
	default:
		return 0, false
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
