// drivers/dali/engine.go
package dali

import (
	"errors"
	"sync/atomic"

	"dalicode-go/x/mathx"
)

// Wire timing. TE is the DALI half-bit time element; the half-bit timer
// must fire once per TE. Edge deltas are accepted within ±20%.
const (
	TE      = 417 // µs
	teMin   = TE * 80 / 100
	teMax   = TE * 120 / 100
	te2Min  = 2 * teMin
	te2Max  = 2 * teMax
	settle  = 26 // half-bits of quiet before a new forward frame (>22 TE)
	replyTE = 22 // half-bits to wait for the first edge of a backward frame
)

// busState enumerates the engine state machine. TX states come first so
// the pin ISR can test "are we transmitting" with a single compare.
type busState uint32

const (
	stateTxStart1st busState = iota
	stateTxStart2nd
	stateTxBit1st
	stateTxBit2nd
	stateTxStop1st
	stateTxStop
	stateIdle
	stateShort
	stateWaitRx
	stateRxStart
	stateRxBit
	stateRxStop
)

// ReceiveHandler is invoked from ISR context with a forward frame
// observed on the bus (another master talking). data is only valid for
// the duration of the call.
type ReceiveHandler func(data []byte, bits uint8)

// ActivityHandler is invoked from ISR context on every observed edge.
type ActivityHandler func()

// ErrorHandler is invoked from ISR context with a wire error code.
type ErrorHandler func(code Result)

// Bus is the DALI bus engine: one transmit in flight at a time,
// Manchester encode on the half-bit tick, Manchester decode plus timing
// validation on the RX edge interrupt. All fields shared between the
// two ISRs and the main context are atomics; the TX staging buffer is
// only written while the state is IDLE.
type Bus struct {
	line  line
	timer HalfBitTimer
	clock Microclock

	collisionCheck bool

	state     atomic.Uint32
	idleCount atomic.Uint32 // half-bit ticks since the last edge, saturating at 255

	// TX staging. Written by SendRaw while IDLE, just before the
	// IDLE->TX_START_1ST CAS; read by the timer ISR during TX states only.
	txBuf  [4]byte
	txBits uint8

	txPos       atomic.Uint32
	txCollision atomic.Bool

	rxWord       atomic.Uint32 // backward-frame shift register
	rxLong       atomic.Uint32 // forward-frame accumulator (up to 25 bits)
	rxBits       atomic.Int32  // observed half-bits; RxError after a framing fault
	rxLastEdge   atomic.Uint32 // µs timestamp of the previous edge
	rxIsResponse atomic.Bool

	onReceive  ReceiveHandler
	onActivity ActivityHandler
	onError    ErrorHandler
}

// Begin performs the one-shot init: pins configured, line idle high,
// edge interrupt installed, half-bit timer running. Callbacks must be
// installed before Begin; they run in ISR context and may not call back
// into the engine.
func (b *Bus) Begin(cfg Config) error {
	if cfg.TxPin == nil || cfg.RxPin == nil {
		return errors.New("dali: tx and rx pins are required")
	}
	if cfg.Timer == nil || cfg.Clock == nil {
		return errors.New("dali: half-bit timer and microsecond clock are required")
	}

	b.timer = cfg.Timer
	b.clock = cfg.Clock
	b.collisionCheck = !cfg.DisableCollisionCheck

	if err := b.line.configure(cfg.TxPin, cfg.RxPin, cfg.ActiveLow); err != nil {
		return err
	}

	b.state.Store(uint32(stateIdle))
	b.rxLastEdge.Store(cfg.Clock.Micros())

	if err := cfg.RxPin.SetIRQ(EdgeBoth, b.pinChangeISR); err != nil {
		return err
	}
	return cfg.Timer.Start(TE, b.timerISR)
}

// OnReceive installs the unsolicited forward-frame handler.
func (b *Bus) OnReceive(fn ReceiveHandler) { b.onReceive = fn }

// OnActivity installs the per-edge activity handler.
func (b *Bus) OnActivity(fn ActivityHandler) { b.onActivity = fn }

// OnError installs the wire-error handler.
func (b *Bus) OnError(fn ErrorHandler) { b.onError = fn }

// Idle reports whether the bus engine is quiescent.
func (b *Bus) Idle() bool { return busState(b.state.Load()) == stateIdle }

// IdleCount returns the saturating count of half-bit ticks since the
// last observed edge.
func (b *Bus) IdleCount() uint8 { return uint8(b.idleCount.Load()) }

// SendRaw arms a forward-frame transmission. bits must be 8, 16, 24 or
// 25; buf holds the payload MSB-first. The 25-bit DALI-2 form takes a
// 3-byte buffer whose third byte carries the trailing framing bit in
// its LSB; the engine moves that bit into a synthesized fourth byte and
// forces the third byte's MSB high on the wire.
func (b *Bus) SendRaw(buf []byte, bits int) Result {
	var need int
	switch bits {
	case 8:
		need = 1
	case 16:
		need = 2
	case 24, 25:
		need = 3
	default:
		return InvalidParameter
	}
	if len(buf) > 3 || len(buf) < need {
		return InvalidParameter
	}
	if busState(b.state.Load()) != stateIdle {
		return Busy
	}

	// Stage the payload. Safe while IDLE: the timer ISR only reads the
	// buffer in TX states, which are entered by the CAS below.
	for i := 0; i < need; i++ {
		b.txBuf[i] = buf[i]
	}
	if bits == 25 {
		b.txBuf[3] = (buf[2] & 0x01) << 7
		b.txBuf[2] = buf[2] | 0x80
	}
	b.txBits = uint8(bits)
	b.txPos.Store(0)
	b.txCollision.Store(false)
	b.rxWord.Store(0)
	b.rxBits.Store(0)

	if !b.state.CompareAndSwap(uint32(stateIdle), uint32(stateTxStart1st)) {
		// The pin ISR took the bus for an observed frame first.
		return Busy
	}
	return Sent
}

// LastResponse consumes the backward-frame slot: the reply byte when a
// full 8-bit frame arrived, RxEmpty when nothing did, RxError otherwise.
// A second call before the next reception returns RxEmpty.
func (b *Bus) LastResponse() int {
	switch n := b.rxBits.Swap(0); n {
	case 16:
		return int(b.rxWord.Load() & 0xFF)
	case 0:
		return int(RxEmpty)
	default:
		return int(RxError)
	}
}

// txBit returns data bit i of the staged frame, MSB-first.
func (b *Bus) txBit(i uint32) bool {
	return b.txBuf[i>>3]&(1<<(7-(i&7))) != 0
}

// timerISR advances the TX state machine and times the RX windows. It
// runs once per TE and must stay well under TE.
func (b *Bus) timerISR() {
	if b.idleCount.Load() < 0xff {
		b.idleCount.Add(1)
	}

	// Stuck-low fault: nothing should hold the bus down for over 2 TE
	// between frames.
	if b.idleCount.Load() == 4 && !b.line.level() {
		b.state.Store(uint32(stateShort))
		b.line.set(true)
		b.report(Pulldown)
	}

	switch busState(b.state.Load()) {
	case stateTxStart1st:
		// Hold off until the bus has settled for >22 TE.
		if b.idleCount.Load() >= settle {
			b.line.set(false)
			b.state.Store(uint32(stateTxStart2nd))
		}
	case stateTxStart2nd:
		// Second half of the start bit (logical 1).
		b.line.set(true)
		b.txPos.Store(0)
		b.state.Store(uint32(stateTxBit1st))
	case stateTxBit1st:
		if b.txBit(b.txPos.Load()) {
			b.line.set(false)
		} else {
			b.line.set(true)
		}
		b.state.Store(uint32(stateTxBit2nd))
	case stateTxBit2nd:
		pos := b.txPos.Load()
		if b.txBit(pos) {
			b.line.set(true)
		} else {
			b.line.set(false)
		}
		pos++
		b.txPos.Store(pos)
		if pos < uint32(b.txBits) {
			b.state.Store(uint32(stateTxBit1st))
		} else {
			b.state.Store(uint32(stateTxStop1st))
		}
	case stateTxStop1st:
		b.line.set(true)
		b.state.Store(uint32(stateTxStop))
	case stateTxStop:
		// Two stop half-bits high, then open the reply window.
		if b.idleCount.Load() >= 4 {
			b.idleCount.Store(0)
			b.state.Store(uint32(stateWaitRx))
		}
	case stateWaitRx:
		if b.idleCount.Load() > replyTE {
			b.state.Store(uint32(stateIdle)) // reply timed out
		}
	case stateRxStop:
		if b.idleCount.Load() > 4 {
			b.state.Store(uint32(stateIdle))
		}
	case stateRxStart, stateRxBit:
		// Forward frames carry no length; they end when the bus goes
		// quiet. Backward frames that stall here were malformed.
		if b.idleCount.Load() > 3 {
			b.state.Store(uint32(stateIdle))
			if !b.rxIsResponse.Load() {
				b.finishObserved()
			}
		}
	}
}

// finishObserved delivers a completed unsolicited forward frame and
// clears the response slot so it cannot masquerade as a reply.
func (b *Bus) finishObserved() {
	n := b.rxBits.Swap(0)
	if n <= 16 || b.onReceive == nil {
		return
	}
	bits := uint32(n-n%2) / 2
	if bits > 32 {
		// Longer than the accumulator: line noise, not a frame.
		return
	}
	w := b.rxLong.Load()

	var data [4]byte
	if bits == 25 {
		// 24 payload bits plus the trailing framing bit, which moves to
		// the MSB of the fourth byte.
		data[0] = byte(w >> 17)
		data[1] = byte(w >> 9)
		data[2] = byte(w >> 1)
		data[3] = byte(w&1) << 7
	} else {
		nb := int(bits+7) / 8
		for i := 0; i < nb; i++ {
			data[i] = byte(w >> (8 * (nb - 1 - i)))
		}
	}
	b.onReceive(data[:(bits+7)/8], uint8(bits))
}

// pinChangeISR runs on every edge of the RX pin: collision detection
// while transmitting, Manchester decode with timing validation while
// receiving.
func (b *Bus) pinChangeISR() {
	level := b.line.level()
	b.idleCount.Store(0)
	if b.onActivity != nil {
		b.onActivity()
	}

	st := busState(b.state.Load())
	if st <= stateTxStop {
		// Transmitting: the observed level must match the driven one.
		if b.collisionCheck && level != b.line.expected.Load() {
			b.txCollision.Store(true)
			b.timer.Restart() // drop the partial half-bit phase
			b.state.Store(uint32(stateIdle))
			b.report(Collision)
		}
		return
	}

	now := b.clock.Micros()
	delta := now - b.rxLastEdge.Load()
	b.rxLastEdge.Store(now)

	switch st {
	case stateWaitRx:
		if !level {
			// First edge of the backward frame; re-phase the tick.
			b.timer.Restart()
			b.rxIsResponse.Store(true)
			b.state.Store(uint32(stateRxStart))
		} else {
			// The bus is already high while idle; a high edge here is
			// a transceiver fault.
			b.state.Store(uint32(stateIdle))
			b.report(CantBeHigh)
		}
	case stateIdle:
		if !level {
			// Another master opened a forward frame.
			b.rxIsResponse.Store(false)
			b.state.Store(uint32(stateRxStart))
		}
	case stateRxStart:
		if level && withinTE(delta) {
			b.rxWord.Store(0)
			b.rxLong.Store(0)
			b.rxBits.Store(0)
			b.state.Store(uint32(stateRxBit))
		} else {
			b.rxBits.Store(int32(RxError))
			b.state.Store(uint32(stateRxStop))
			b.report(InvalidStartbit)
		}
	case stateRxBit:
		switch {
		case withinTE(delta):
			n := b.rxBits.Load()
			if n&1 == 1 { // odd: this edge is the mid-bit transition
				b.shiftIn(level)
			}
			b.rxBits.Store(n + 1)
		case within2TE(delta):
			b.shiftIn(level)
			b.rxBits.Add(2)
		default:
			b.rxBits.Store(int32(RxError))
			b.state.Store(uint32(stateRxStop))
			b.report(ErrorTiming)
		}
		if b.rxIsResponse.Load() && b.rxBits.Load() == 16 {
			b.state.Store(uint32(stateRxStop))
		}
	case stateShort:
		if level {
			b.state.Store(uint32(stateIdle)) // fault cleared
		}
	}
}

func (b *Bus) shiftIn(level bool) {
	bit := uint32(0)
	if level {
		bit = 1
	}
	if b.rxIsResponse.Load() {
		b.rxWord.Store(b.rxWord.Load()<<1 | bit)
	} else {
		b.rxLong.Store(b.rxLong.Load()<<1 | bit)
	}
}

func (b *Bus) report(code Result) {
	if b.onError != nil {
		b.onError(code)
	}
}

func withinTE(delta uint32) bool { return mathx.Between(delta, teMin, teMax) }

func within2TE(delta uint32) bool { return mathx.Between(delta, te2Min, te2Max) }
