// services/gateway/service_test.go
package gateway_test

import (
	"context"
	"testing"
	"time"

	"dalicode-go/bus"
	"dalicode-go/services/gateway"
	"dalicode-go/services/gateway/platform"
	"dalicode-go/types"
)

type testEnv struct {
	b    *bus.Bus
	conn *bus.Connection
	seq  int
}

func startGateway(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewBus(16)
	pins := platform.NewPinFactory(1, 2)
	go gateway.Run(ctx, b.NewConnection("gateway"),
		pins,
		platform.NewTimerFactory(),
		platform.NewClock(),
		platform.DefaultI2CFactory(),
	)
	return &testEnv{b: b, conn: b.NewConnection("test")}
}

func (e *testEnv) configure(t *testing.T, cfg map[string]any) {
	t.Helper()
	e.conn.Publish(e.conn.NewMessage(bus.T("config", "dali"), cfg, true))
	e.waitState(t, "ready")
}

// waitState blocks until the retained dali/state document reports the
// wanted level.
func (e *testEnv) waitState(t *testing.T, level string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sub := e.conn.Subscribe(bus.T("dali", "state"))
		select {
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(types.ServiceState); ok && st.Level == level {
				e.conn.Unsubscribe(sub)
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
		e.conn.Unsubscribe(sub)
	}
	t.Fatalf("dali/state never reached %q", level)
}

// request round-trips one control verb.
func (e *testEnv) request(t *testing.T, verb string, payload any) map[string]any {
	t.Helper()
	e.seq++
	replyTo := bus.T("test", "resp", e.seq)
	sub := e.conn.Subscribe(replyTo)
	defer e.conn.Unsubscribe(sub)

	e.conn.Publish(&bus.Message{
		Topic:   bus.T("dali", "control", verb),
		Payload: payload,
		ReplyTo: replyTo,
	})
	select {
	case msg := <-sub.Channel():
		m, ok := msg.Payload.(map[string]any)
		if !ok {
			t.Fatalf("reply payload %T", msg.Payload)
		}
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply for %s", verb)
		return nil
	}
}

func hostConfig() map[string]any {
	return map[string]any{"tx_pin": 1, "rx_pin": 2, "active_low": false}
}

func TestControlBeforeConfigIsNotReady(t *testing.T) {
	e := startGateway(t)
	e.waitState(t, "idle")
	m := e.request(t, "status", nil)
	if m["ok"] != false || m["error"] != "not_ready" {
		t.Fatalf("reply = %v", m)
	}
}

func TestArcBroadcastOverLoopback(t *testing.T) {
	e := startGateway(t)
	e.configure(t, hostConfig())

	m := e.request(t, "arc", types.DaliArcRequest{Value: 0, Type: "broadcast"})
	if m["ok"] != true {
		t.Fatalf("reply = %v", m)
	}
	// Loopback has no gear: no reply byte.
	if resp, present := m["response"]; !present || resp != nil {
		t.Fatalf("response = %v", m["response"])
	}
}

func TestStatusVerb(t *testing.T) {
	e := startGateway(t)
	e.configure(t, hostConfig())

	m := e.request(t, "status", nil)
	if m["ok"] != true {
		t.Fatalf("reply = %v", m)
	}
	st, ok := m["status"].(types.DaliStatus)
	if !ok {
		t.Fatalf("status payload %T", m["status"])
	}
	if st.Commissioning != "off" {
		t.Fatalf("status = %+v", st)
	}
}

func TestInvalidPayloadRejected(t *testing.T) {
	e := startGateway(t)
	e.configure(t, hostConfig())

	m := e.request(t, "arc", "not json at all {{")
	if m["ok"] != false || m["error"] != "invalid_payload" {
		t.Fatalf("reply = %v", m)
	}
}

func TestUnknownVerbRejected(t *testing.T) {
	e := startGateway(t)
	e.configure(t, hostConfig())

	m := e.request(t, "frobnicate", nil)
	if m["ok"] != false {
		t.Fatalf("reply = %v", m)
	}
}

func TestPowerVerbWithExpander(t *testing.T) {
	e := startGateway(t)
	cfg := hostConfig()
	cfg["power"] = map[string]any{"pin": 3, "expander": "i2c0"}
	e.configure(t, cfg)

	m := e.request(t, "power", types.DaliPowerRequest{On: true})
	if m["ok"] != true {
		t.Fatalf("reply = %v", m)
	}
	m = e.request(t, "power", types.DaliPowerRequest{On: false})
	if m["ok"] != true {
		t.Fatalf("reply = %v", m)
	}
}

func TestPowerVerbUnconfigured(t *testing.T) {
	e := startGateway(t)
	e.configure(t, hostConfig())

	m := e.request(t, "power", types.DaliPowerRequest{On: true})
	if m["ok"] != false || m["error"] != "unsupported" {
		t.Fatalf("reply = %v", m)
	}
}

func TestBadPinConfigReportsError(t *testing.T) {
	e := startGateway(t)
	e.conn.Publish(e.conn.NewMessage(bus.T("config", "dali"),
		map[string]any{"tx_pin": 9, "rx_pin": 2}, true))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sub := e.conn.Subscribe(bus.T("dali", "state"))
		select {
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(types.ServiceState); ok && st.Level == "error" {
				if st.Status != "unknown_pin" {
					t.Fatalf("status = %q", st.Status)
				}
				e.conn.Unsubscribe(sub)
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
		e.conn.Unsubscribe(sub)
	}
	t.Fatal("error state never published")
}
