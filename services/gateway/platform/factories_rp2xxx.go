// services/gateway/platform/factories_rp2xxx.go
//go:build rp2040 || rp2350

package platform

import (
	"machine"
	"time"

	"dalicode-go/drivers/dali"
	"dalicode-go/services/gateway"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"
)

// -----------------------------------------------------------------------------
// Defaults used by gateway.Run on Raspberry Pi Pico / Pico 2 (RP2 family)
// -----------------------------------------------------------------------------

// DefaultPinFactory maps logical numbers directly to machine.Pin(n),
// matching Pico GP numbering.
func DefaultPinFactory() gateway.PinFactory { return rp2PinFactory{} }

// DefaultI2CFactory configures i2c0 with board-default pins at 400 kHz
// for the bus-power expander.
func DefaultI2CFactory() gateway.I2CBusFactory {
	b0 := machine.I2C0
	_ = b0.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})
	return &rp2I2CFactory{buses: map[string]drivers.I2C{"i2c0": b0}}
}

// NewTimerFactory returns the RP2 half-bit tick source.
func NewTimerFactory() gateway.TimerFactory { return rp2TimerFactory{} }

// NewClock returns the RP2 microsecond clock.
func NewClock() dali.Microclock { return rp2Clock{} }

// ConsoleUART configures uart0 on the default pins for the line
// console and returns it as a byte stream.
func ConsoleUART(baud uint32) *uartx.UART {
	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: baud,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	return u
}

// ---- I²C implementation ----

type rp2I2CFactory struct {
	buses map[string]drivers.I2C
}

func (f *rp2I2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// ---- GPIO implementation (includes IRQ support) ----

type rp2PinFactory struct{}

func (rp2PinFactory) ByNumber(n int) (dali.IRQPin, bool) {
	// Constrain to RP2's user GPIOs (GP0..GP28).
	if n < 0 || n > 28 {
		return nil, false
	}
	return &rp2Pin{p: machine.Pin(n), n: n}, true
}

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) ConfigureInput(pull dali.Pull) error {
	var mode machine.PinMode
	switch pull {
	case dali.PullUp:
		mode = machine.PinInputPullup
	case dali.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }
func (r *rp2Pin) Number() int    { return r.n }

func (r *rp2Pin) SetIRQ(edge dali.Edge, handler func()) error {
	return r.p.SetInterrupt(toPinChange(edge), func(machine.Pin) { handler() })
}

func (r *rp2Pin) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func toPinChange(e dali.Edge) machine.PinChange {
	switch e {
	case dali.EdgeRising:
		return machine.PinRising
	case dali.EdgeFalling:
		return machine.PinFalling
	case dali.EdgeBoth:
		return machine.PinToggle
	default:
		var zero machine.PinChange
		return zero
	}
}

// ---- Half-bit timer ----

// TODO: back this with an RP2 hardware alarm; goroutine ticker jitter
// eats into the ±20% TE acceptance window under scheduler load.
type rp2Timer struct {
	period time.Duration
	ticker *time.Ticker
	done   chan struct{}
}

func (t *rp2Timer) Start(periodMicros uint32, fn func()) error {
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

func (t *rp2Timer) Restart() {
	if t.ticker != nil {
		t.ticker.Reset(t.period)
	}
}

func (t *rp2Timer) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
	}
}

type rp2TimerFactory struct{}

func (rp2TimerFactory) HalfBitTimer() dali.HalfBitTimer { return &rp2Timer{} }

// ---- Clock ----

type rp2Clock struct{}

func (rp2Clock) Micros() uint32 {
	return uint32(time.Now().UnixNano() / 1_000)
}
