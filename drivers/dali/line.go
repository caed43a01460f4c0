// drivers/dali/line.go
package dali

import "sync/atomic"

// line is the thin wrapper over the TX/RX pins. Levels are logical:
// true means bus idle (high), false means bus pulled down. With
// activeLow the GPIO sense is inverted, which is how most DALI
// transceivers are wired.
type line struct {
	tx        Pin
	rx        Pin
	activeLow bool

	// Last commanded logical level; the pin ISR compares observed
	// levels against it to detect collisions.
	expected atomic.Bool
}

func (l *line) configure(tx Pin, rx IRQPin, activeLow bool) error {
	l.tx = tx
	l.rx = rx
	l.activeLow = activeLow

	if err := rx.ConfigureInput(PullNone); err != nil {
		return err
	}
	// Idle high before the first edge interrupt can fire.
	init := true
	if activeLow {
		init = false
	}
	if err := tx.ConfigureOutput(init); err != nil {
		return err
	}
	l.expected.Store(true)
	return nil
}

// set drives the bus to a logical level. The expected level is recorded
// first: the edge this write causes may reach the RX ISR before set
// returns, and the collision check must already see the new level.
func (l *line) set(level bool) {
	l.expected.Store(level)
	if l.activeLow {
		l.tx.Set(!level)
	} else {
		l.tx.Set(level)
	}
}

// level reads the logical bus level off the RX pin.
func (l *line) level() bool {
	if l.activeLow {
		return !l.rx.Get()
	}
	return l.rx.Get()
}
