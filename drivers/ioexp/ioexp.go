// drivers/ioexp/ioexp.go

// Package ioexp drives a PCF8575-class 16-bit I²C GPIO expander. The
// chip has no registers: every write latches all 16 pins (LSB first),
// every read returns all 16 levels. A shadow latch keeps single-pin
// updates cheap. The DALI service hangs its bus-power relay off one of
// these pins; the DALI line itself always stays on native GPIO.
package ioexp

import (
	"sync"

	"tinygo.org/x/drivers"
)

// DefaultAddress is the PCF8575 base address with A0..A2 low.
const DefaultAddress = 0x20

type Device struct {
	bus  drivers.I2C
	addr uint16

	mu    sync.Mutex
	latch uint16 // bit=1 releases the pin high, bit=0 drives low
}

// New creates a handle on the expander. All pins start released.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &Device{bus: bus, addr: addr, latch: 0xFFFF}
}

// Configure pushes the initial latch to the chip.
func (d *Device) Configure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(d.latch)
}

// WritePins latches all 16 pins at once.
func (d *Device) WritePins(v uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latch = v
	return d.write(v)
}

// ReadPins returns the current level of all 16 pins.
func (d *Device) ReadPins() (uint16, error) {
	buf := make([]byte, 2)
	if err := d.bus.Tx(d.addr, nil, buf); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// SetPin drives one pin: high releases it, low sinks it.
func (d *Device) SetPin(pin uint8, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if level {
		d.latch |= 1 << (pin & 15)
	} else {
		d.latch &^= 1 << (pin & 15)
	}
	return d.write(d.latch)
}

// GetPin reads one pin level from the port.
func (d *Device) GetPin(pin uint8) (bool, error) {
	v, err := d.ReadPins()
	if err != nil {
		return false, err
	}
	return v&(1<<(pin&15)) != 0, nil
}

func (d *Device) write(v uint16) error {
	return d.bus.Tx(d.addr, []byte{byte(v), byte(v >> 8)}, nil)
}
