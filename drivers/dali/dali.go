// drivers/dali/dali.go

// Package dali implements a controller-side driver for the DALI
// two-wire lighting bus (IEC 62386): Manchester-coded forward frames at
// 1200 baud, 8-bit backward frames, and the binary-search commissioning
// procedure that assigns short addresses.
//
// The Bus engine is interrupt-driven and never blocks; the Controller
// adds frame composition, blocking Wait helpers and the cooperative
// commissioning state machine on top.
package dali

import "time"

// DefaultWaitTimeout bounds the Wait helpers when the caller has no
// better number. A frame plus its reply window is about 61 TE (25.4 ms).
const DefaultWaitTimeout = 50 * time.Millisecond

// Controller composes forward frames and drives commissioning over one
// Bus. It is meant for a single main context; the Bus alone is touched
// from ISRs.
type Controller struct {
	bus *Bus

	commission commissionRun
}

// NewController wraps an initialised Bus.
func NewController(bus *Bus) *Controller {
	return &Controller{bus: bus}
}

// Bus exposes the underlying engine.
func (c *Controller) Bus() *Bus { return c.bus }

// SendArc transmits a direct arc power command without waiting.
func (c *Controller) SendArc(address, value uint8, at AddressType) Result {
	f := forwardFrame(address, value, at, 0)
	return c.bus.SendRaw(f[:], 16)
}

// SendArcBroadcast dims every gear on the bus.
func (c *Controller) SendArcBroadcast(value uint8) Result {
	return c.SendArc(Broadcast, value, AddressGroup)
}

// SendArcWait is SendArc bounded by the bus-idle deadline; it returns
// the reply slot like SendRawWait.
func (c *Controller) SendArcWait(address, value uint8, at AddressType, timeout time.Duration) int {
	f := forwardFrame(address, value, at, 0)
	return c.SendRawWait(f[:], 16, timeout)
}

// SendArcBroadcastWait is the broadcast form of SendArcWait.
func (c *Controller) SendArcBroadcastWait(value uint8, timeout time.Duration) int {
	return c.SendArcWait(Broadcast, value, AddressGroup, timeout)
}

// SendCmd transmits a command frame without waiting. Commands that
// require the configuration double-send are the caller's problem here;
// use SendCmdWait for that.
func (c *Controller) SendCmd(address uint8, cmd Cmd, at AddressType) Result {
	f := forwardFrame(address, uint8(cmd), at, 1)
	return c.bus.SendRaw(f[:], 16)
}

// SendCmdBroadcast sends cmd to every gear without waiting.
func (c *Controller) SendCmdBroadcast(cmd Cmd) Result {
	return c.SendCmd(Broadcast, cmd, AddressGroup)
}

// SendCmdWait sends a command and returns its reply (0..255), RxEmpty,
// or a negative status. Configuration commands (32..142) are sent twice
// within the 100 ms window; any non-empty first result short-circuits.
func (c *Controller) SendCmdWait(address uint8, cmd Cmd, at AddressType, timeout time.Duration) int {
	sendCount := 1
	if doubleSend(cmd) {
		sendCount = 2
	}
	f := forwardFrame(address, uint8(cmd), at, 1)

	result := int(RxEmpty)
	for ; sendCount > 0; sendCount-- {
		result = c.SendRawWait(f[:], 16, timeout)
		if result != int(RxEmpty) {
			return result
		}
	}
	return result
}

// SendCmdBroadcastWait is the broadcast form of SendCmdWait.
func (c *Controller) SendCmdBroadcastWait(cmd Cmd, timeout time.Duration) int {
	return c.SendCmdWait(Broadcast, cmd, AddressGroup, timeout)
}

// SendSpecialCmd transmits a special command (256..287) without
// waiting. Out-of-range opcodes are InvalidParameter. INITIALISE and
// RANDOMISE must be sent twice; commissioning does that itself.
func (c *Controller) SendSpecialCmd(cmd SpecialCmd, value uint8) Result {
	f, ok := specialFrame(cmd, value)
	if !ok {
		return InvalidParameter
	}
	return c.bus.SendRaw(f[:], 16)
}

// SendSpecialCmdWait is SendSpecialCmd bounded by the bus-idle deadline.
func (c *Controller) SendSpecialCmdWait(cmd SpecialCmd, value uint8, timeout time.Duration) int {
	f, ok := specialFrame(cmd, value)
	if !ok {
		return int(InvalidParameter)
	}
	return c.SendRawWait(f[:], 16, timeout)
}

// SendRawWait submits a raw frame once the bus is idle, waits for the
// transaction (frame, reply window, any reply) to finish, and returns
// the consumed reply slot. Both waits poll against the same deadline;
// either failing yields ReadyTimeout.
func (c *Controller) SendRawWait(buf []byte, bits int, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	if !c.waitIdle(deadline) {
		return int(ReadyTimeout)
	}
	if r := c.bus.SendRaw(buf, bits); r != Sent {
		return int(r)
	}
	if !c.waitIdle(deadline) {
		return int(ReadyTimeout)
	}
	return c.bus.LastResponse()
}

func (c *Controller) waitIdle(deadline time.Time) bool {
	for !c.bus.Idle() {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
