// services/gateway/platform/factories_host.go
//go:build !rp2040 && !rp2350

package platform

import (
	"sync"
	"time"

	"dalicode-go/drivers/dali"
	"dalicode-go/services/gateway"
	"dalicode-go/x/timex"

	"tinygo.org/x/drivers"
)

// ----------------------------- GPIO (host) -----------------------------------

// FakePin implements dali.IRQPin for host-side runs and tests.
type FakePin struct {
	mu      sync.Mutex
	number  int
	level   bool
	modeOut bool
	irqFn   func()
	onSet   func(level bool) // wiring hook, see Loopback
}

func (p *FakePin) ConfigureInput(_ dali.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	changed := p.level != level
	p.level = level
	hook := p.onSet
	p.mu.Unlock()
	if changed && hook != nil {
		hook(level)
	}
}

func (p *FakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(_ dali.Edge, handler func()) error {
	p.mu.Lock()
	p.irqFn = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqFn = nil
	p.mu.Unlock()
	return nil
}

// Drive changes the observed level from outside (another bus master, a
// fault injector) and fires the IRQ handler like a real edge would.
func (p *FakePin) Drive(level bool) {
	p.mu.Lock()
	changed := p.level != level
	p.level = level
	irq := p.irqFn
	p.mu.Unlock()
	if changed && irq != nil {
		irq()
	}
}

// Loopback mirrors everything written to tx onto rx, the way a DALI
// transceiver's receiver sees its own transmitter.
func Loopback(tx, rx *FakePin) {
	tx.onSet = func(level bool) { rx.Drive(level) }
}

type HostPinFactory struct {
	pins map[int]*FakePin
}

func (f *HostPinFactory) ByNumber(n int) (dali.IRQPin, bool) {
	p, ok := f.pins[n]
	return p, ok
}

// Pin exposes the fake behind a number for test orchestration.
func (f *HostPinFactory) Pin(n int) *FakePin { return f.pins[n] }

// NewPinFactory builds fakes for the given pin numbers, with the first
// two wired tx->rx as a loopback pair.
func NewPinFactory(numbers ...int) *HostPinFactory {
	f := &HostPinFactory{pins: map[int]*FakePin{}}
	for _, n := range numbers {
		f.pins[n] = &FakePin{number: n, level: true}
	}
	if len(numbers) >= 2 {
		Loopback(f.pins[numbers[0]], f.pins[numbers[1]])
	}
	return f
}

// --------------------------- Half-bit timer (host) ----------------------------

// TickerTimer runs the half-bit tick off a goroutine ticker. Host-side
// jitter is far beyond real TE tolerances; it is good enough to move
// the state machine for demos and tests.
type TickerTimer struct {
	period time.Duration
	ticker *time.Ticker
	done   chan struct{}
}

func (t *TickerTimer) Start(periodMicros uint32, fn func()) error {
	t.period = time.Duration(periodMicros) * time.Microsecond
	t.ticker = time.NewTicker(t.period)
	t.done = make(chan struct{})
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				fn()
			}
		}
	}()
	return nil
}

func (t *TickerTimer) Restart() {
	if t.ticker != nil {
		t.ticker.Reset(t.period)
	}
}

func (t *TickerTimer) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
	}
}

type hostTimerFactory struct{}

func (hostTimerFactory) HalfBitTimer() dali.HalfBitTimer { return &TickerTimer{} }

// NewTimerFactory returns the host half-bit timer source.
func NewTimerFactory() gateway.TimerFactory { return hostTimerFactory{} }

// ------------------------------- Clock (host) ---------------------------------

type hostClock struct{}

func (hostClock) Micros() uint32 { return timex.Micros32() }

// NewClock returns the host microsecond clock.
func NewClock() dali.Microclock { return hostClock{} }

// ------------------------------- I²C (host) -----------------------------------

// HostI2C implements tinygo drivers.I2C for host-side tests: a 16-bit
// expander-style port latch behind an address.
type HostI2C struct {
	mu   sync.Mutex
	Addr uint16
	Port uint16
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Addr = addr
	if len(w) == 2 {
		h.Port = uint16(w[0]) | uint16(w[1])<<8
	}
	if len(r) == 2 {
		r[0] = byte(h.Port)
		r[1] = byte(h.Port >> 8)
	}
	return nil
}

type hostI2CFactory struct {
	buses map[string]drivers.I2C
}

func (f *hostI2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// DefaultI2CFactory creates inert host I²C buses "i2c0" and "i2c1".
func DefaultI2CFactory() gateway.I2CBusFactory {
	return &hostI2CFactory{
		buses: map[string]drivers.I2C{
			"i2c0": &HostI2C{},
			"i2c1": &HostI2C{},
		},
	}
}
