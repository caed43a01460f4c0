// services/gateway/service.go

// Package gateway exposes the DALI controller over the message bus:
// config on config/dali, control verbs on dali/control/<verb>, observed
// frames and wire errors as dali/event/* messages, and a retained
// dali/state document.
package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"dalicode-go/bus"
	"dalicode-go/drivers/dali"
	"dalicode-go/drivers/ioexp"
	"dalicode-go/errcode"
	"dalicode-go/types"
	"dalicode-go/x/mathx"
	"dalicode-go/x/timex"

	"tinygo.org/x/drivers"
)

// PinFactory supplies GPIO pins by the configured number scheme.
type PinFactory interface {
	ByNumber(n int) (dali.IRQPin, bool)
}

// TimerFactory supplies the half-bit tick source for the engine.
type TimerFactory interface {
	HalfBitTimer() dali.HalfBitTimer
}

// I2CBusFactory injects configured I²C instances by id.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// commissionPace is how often the service advances the commissioning
// state machine. Each tick sends at most one bus frame, which with its
// reply window takes tens of ms, so a few ms of tick latency costs
// nothing.
const commissionPace = 5 * time.Millisecond

// requestTimeout bounds a control verb's bus transaction. A frame plus
// its reply window is about 61 TE (25.4 ms) on hardware; the host
// goroutine ticker runs slower than TE and stretches one transaction
// to several times that.
const requestTimeout = 500 * time.Millisecond

// Run starts the gateway service. It blocks until ctx is cancelled.
func Run(ctx context.Context, conn *bus.Connection, pins PinFactory, timers TimerFactory, clock dali.Microclock, i2c I2CBusFactory) {
	s := &service{
		conn:   conn,
		pins:   pins,
		timers: timers,
		clock:  clock,
		i2c:    i2c,
		frameQ: make(chan frameEvt, 8),
		errQ:   make(chan dali.Result, 8),
	}
	s.loop(ctx)
}

// frameEvt crosses from ISR context to the service loop. Fixed-size:
// no allocation on the ISR path.
type frameEvt struct {
	data [4]byte
	n    uint8
	bits uint8
}

type service struct {
	conn   *bus.Connection
	pins   PinFactory
	timers TimerFactory
	clock  dali.Microclock
	i2c    I2CBusFactory

	engine *dali.Bus
	ctrl   *dali.Controller

	// ISR fan-in; sends are non-blocking, overflow counts as drops.
	frameQ chan frameEvt
	errQ   chan dali.Result
	drops  atomic.Uint32

	setPower func(on bool) error

	commissioning bool
	pace          *time.Timer
}

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "dali"))
	ctrlSub := s.conn.Subscribe(bus.T("dali", "control", bus.Wildcard))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config")

	s.pace = time.NewTimer(time.Hour)
	if !s.pace.Stop() {
		drainTimer(s.pace)
	}

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled")
			return

		case msg := <-cfgSub.Channel():
			var cfg types.DaliConfig
			if err := decodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed")
				continue
			}
			if code := s.applyConfig(cfg); code != errcode.OK {
				s.publishState("error", string(code))
				continue
			}
			s.publishState("ready", "configured")

		case msg := <-ctrlSub.Channel():
			// dali/control/<verb>
			if len(msg.Topic) < 3 {
				continue
			}
			verb, _ := msg.Topic[2].(string)
			s.handleControl(verb, msg)

		case ev := <-s.frameQ:
			s.conn.Publish(s.conn.NewMessage(
				bus.T("dali", "event", "frame"),
				types.DaliFrameEvent{
					Data: append([]uint8(nil), ev.data[:ev.n]...),
					Bits: ev.bits,
					TS:   timex.NowMs(),
				},
				false,
			))

		case code := <-s.errQ:
			s.conn.Publish(s.conn.NewMessage(
				bus.T("dali", "event", "error"),
				types.DaliWireError{Code: code.String(), TS: timex.NowMs()},
				false,
			))

		case <-s.pace.C:
			if !s.commissioning {
				continue
			}
			s.ctrl.CommissionTick()
			if s.ctrl.CommissionState() == dali.CommissionOff {
				s.commissioning = false
				s.conn.Publish(s.conn.NewMessage(
					bus.T("dali", "commission"),
					map[string]any{
						"found":      s.ctrl.DevicesFound(),
						"next_short": s.ctrl.NextShortAddress(),
						"ts_ms":      timex.NowMs(),
					},
					true,
				))
				s.publishState("ready", "commission_done")
				continue
			}
			resetTimer(s.pace, commissionPace)
		}
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *service) applyConfig(cfg types.DaliConfig) errcode.Code {
	if s.engine != nil {
		// Begin is one-shot; pin moves need a restart.
		return errcode.OK
	}

	txPin, ok := s.pins.ByNumber(cfg.TxPin)
	if !ok {
		return errcode.UnknownPin
	}
	rxPin, ok := s.pins.ByNumber(cfg.RxPin)
	if !ok {
		return errcode.UnknownPin
	}

	eng := &dali.Bus{}
	eng.OnReceive(func(data []byte, bits uint8) {
		var ev frameEvt
		ev.n = uint8(copy(ev.data[:], data))
		ev.bits = bits
		select {
		case s.frameQ <- ev:
		default:
			s.drops.Add(1) // protect the ISR path
		}
	})
	eng.OnError(func(code dali.Result) {
		select {
		case s.errQ <- code:
		default:
			s.drops.Add(1)
		}
	})

	err := eng.Begin(dali.Config{
		TxPin:                 txPin,
		RxPin:                 rxPin,
		ActiveLow:             cfg.ActiveLow,
		DisableCollisionCheck: cfg.CollisionCheck != nil && !*cfg.CollisionCheck,
		Timer:                 s.timers.HalfBitTimer(),
		Clock:                 s.clock,
	})
	if err != nil {
		return errcode.Of(err)
	}

	if code := s.configurePower(cfg.Power); code != errcode.OK {
		return code
	}

	s.engine = eng
	s.ctrl = dali.NewController(eng)
	return errcode.OK
}

func (s *service) configurePower(p *types.DaliPowerConfig) errcode.Code {
	if p == nil {
		return errcode.OK
	}
	if p.Expander != "" {
		if s.i2c == nil {
			return errcode.UnknownBus
		}
		i2cBus, ok := s.i2c.ByID(p.Expander)
		if !ok {
			return errcode.UnknownBus
		}
		exp := ioexp.New(i2cBus, 0)
		if err := exp.Configure(); err != nil {
			return errcode.Of(err)
		}
		pin, invert := uint8(p.Pin), p.Invert
		s.setPower = func(on bool) error { return exp.SetPin(pin, on != invert) }
		return errcode.OK
	}
	gpio, ok := s.pins.ByNumber(p.Pin)
	if !ok {
		return errcode.UnknownPin
	}
	invert := p.Invert
	if err := gpio.ConfigureOutput(invert); err != nil {
		return errcode.Of(err)
	}
	s.setPower = func(on bool) error { gpio.Set(on != invert); return nil }
	return errcode.OK
}

// -----------------------------------------------------------------------------
// Control verbs
// -----------------------------------------------------------------------------

func (s *service) handleControl(verb string, msg *bus.Message) {
	if s.ctrl == nil {
		s.replyErr(msg, errcode.NotReady)
		return
	}

	switch verb {
	case "arc":
		var req types.DaliArcRequest
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		addr, at := resolveAddress(req.Address, req.Type)
		s.replyResult(msg, s.ctrl.SendArcWait(addr, req.Value, at, requestTimeout))

	case "cmd":
		var req types.DaliCmdRequest
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		addr, at := resolveAddress(req.Address, req.Type)
		s.replyResult(msg, s.ctrl.SendCmdWait(addr, dali.Cmd(req.Command), at, requestTimeout))

	case "special":
		var req types.DaliSpecialRequest
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		s.replyResult(msg, s.ctrl.SendSpecialCmdWait(dali.SpecialCmd(req.Command), req.Value, requestTimeout))

	case "raw":
		var req types.DaliRawRequest
		if err := decodeJSON(msg.Payload, &req); err != nil || len(req.Data) == 0 {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		s.replyResult(msg, s.ctrl.SendRawWait(req.Data, req.Bits, requestTimeout))

	case "commission":
		var req types.DaliCommissionRequest
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		start := uint8(mathx.Clamp(int(req.Start), 0, 63))
		s.ctrl.Commission(start, req.OnlyNew)
		s.commissioning = true
		resetTimer(s.pace, 0)
		s.publishState("ready", "commissioning")
		s.replyOK(msg, nil)

	case "power":
		if s.setPower == nil {
			s.replyErr(msg, errcode.Unsupported)
			return
		}
		var req types.DaliPowerRequest
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if err := s.setPower(req.On); err != nil {
			s.replyErr(msg, errcode.Of(err))
			return
		}
		s.replyOK(msg, map[string]any{"on": req.On})

	case "status":
		mode := "off"
		if s.commissioning {
			mode = "running"
		}
		s.replyOK(msg, map[string]any{"status": types.DaliStatus{
			Idle:          s.engine.Idle(),
			Commissioning: mode,
			NextShort:     s.ctrl.NextShortAddress(),
			DevicesFound:  s.ctrl.DevicesFound(),
			Drops:         s.drops.Load(),
		}})

	default:
		s.replyErr(msg, errcode.InvalidTopic)
	}
}

// resolveAddress turns the wire-facing address/type pair into driver
// arguments. "broadcast" ignores the given address.
func resolveAddress(addr uint8, typ string) (uint8, dali.AddressType) {
	switch typ {
	case "broadcast":
		return dali.Broadcast, dali.AddressGroup
	case "group":
		return addr, dali.AddressGroup
	default:
		return addr, dali.AddressShort
	}
}

// replyResult maps a Wait-helper outcome onto a bus reply: a reply byte
// or rx_empty is ok, anything else is the matching error code.
func (s *service) replyResult(msg *bus.Message, res int) {
	if res >= 0 {
		s.replyOK(msg, map[string]any{"response": res})
		return
	}
	if res == int(dali.RxEmpty) {
		s.replyOK(msg, map[string]any{"response": nil})
		return
	}
	s.replyErr(msg, resultCode(dali.Result(res)))
}

func resultCode(r dali.Result) errcode.Code {
	switch r {
	case dali.RxEmpty:
		return errcode.RxEmpty
	case dali.RxError:
		return errcode.RxError
	case dali.Busy:
		return errcode.Busy
	case dali.InvalidParameter:
		return errcode.InvalidParams
	case dali.ReadyTimeout, dali.SendTimeout:
		return errcode.Timeout
	case dali.Collision:
		return errcode.Collision
	case dali.Pulldown:
		return errcode.Pulldown
	case dali.CantBeHigh:
		return errcode.CantBeHigh
	case dali.InvalidStartbit:
		return errcode.InvalidStartbit
	case dali.ErrorTiming:
		return errcode.ErrorTiming
	default:
		return errcode.Error
	}
}

// -----------------------------------------------------------------------------
// Bus plumbing
// -----------------------------------------------------------------------------

func (s *service) publishState(level, status string) {
	s.conn.Publish(s.conn.NewMessage(
		bus.T("dali", "state"),
		types.ServiceState{Level: level, Status: status, TS: timex.NowMs()},
		true,
	))
}

func (s *service) replyOK(req *bus.Message, extra map[string]any) {
	m := map[string]any{"ok": true}
	for k, v := range extra {
		m[k] = v
	}
	s.conn.Reply(req, m, false)
}

func (s *service) replyErr(req *bus.Message, code errcode.Code) {
	s.conn.Reply(req, map[string]any{"ok": false, "error": string(code)}, false)
}
