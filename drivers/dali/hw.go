// drivers/dali/hw.go
package dali

// Platform collaborators. The engine owns no hardware; everything it
// touches comes in through these interfaces at Begin. Host builds inject
// fakes, MCU builds inject machine-backed implementations.

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Pin is a logical GPIO.
type Pin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
}

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// IRQPin extends Pin with edge interrupts. The handler runs in ISR
// context and must not block.
type IRQPin interface {
	Pin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// HalfBitTimer invokes its handler once per half-bit time (TE). Restart
// re-phases the period so the next firing is one full TE away; the engine
// uses it to re-align the tick after an RX start edge or a collision.
type HalfBitTimer interface {
	Start(periodMicros uint32, handler func()) error
	Restart()
	Stop()
}

// Microclock is a monotonic microsecond counter. Wrap-around is fine:
// edge deltas are computed with uint32 subtraction.
type Microclock interface {
	Micros() uint32
}

// Config wires a Bus to its platform at Begin.
type Config struct {
	TxPin     Pin
	RxPin     IRQPin
	ActiveLow bool

	Timer HalfBitTimer // must fire every TE microseconds
	Clock Microclock

	// DisableCollisionCheck turns off TX level verification for
	// transceivers whose RX path does not loop back the TX line.
	DisableCollisionCheck bool
}
