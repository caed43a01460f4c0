// drivers/dali/dali_test.go
package dali

import (
	"sync"
	"testing"
	"time"
)

// pump drives the rig from a background goroutine so the blocking Wait
// helpers can run on the test goroutine. gear maps each completed
// forward frame to a reply byte, or a negative value for silence.
func (r *rig) pump(gear func(frame []byte) int) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		inTx := false
		frameStart := 0
		for {
			select {
			case <-quit:
				return
			default:
			}
			r.tick()
			st := r.state()
			switch {
			case !inTx && st <= stateTxStop:
				inTx = true
				frameStart = len(r.trace) - 1
			case inTx && st == stateWaitRx:
				inTx = false
				bits, err := decodeTrace(r.trace[frameStart:])
				if err != nil {
					r.t.Errorf("pump: %v", err)
					continue
				}
				if reply := gear(traceBytes(bits)); reply >= 0 {
					r.injectBits(byteBits(uint8(reply)))
				}
			}
			time.Sleep(10 * time.Microsecond)
		}
	}()
	return func() { close(quit); <-done }
}

func TestSendArcBroadcastFrame(t *testing.T) {
	r := newRig(t, true)
	c := NewController(r.bus)

	if got := c.SendArcBroadcast(0x00); got != Sent {
		t.Fatalf("SendArcBroadcast = %v", got)
	}
	r.ticksUntil(stateWaitRx, 200)

	frame := traceBytes(mustDecodeTrace(t, r.trace))
	if len(frame) != 2 || frame[0] != 0xFE || frame[1] != 0x00 {
		t.Fatalf("wire frame = % x, want fe 00", frame)
	}
	r.ticksUntil(stateIdle, 100)
	if got := r.bus.LastResponse(); got != int(RxEmpty) {
		t.Fatalf("LastResponse = %d, want RxEmpty", got)
	}
}

func TestForwardFrameBytes(t *testing.T) {
	cases := []struct {
		address, value uint8
		at             AddressType
		selector       uint8
		want           [2]byte
	}{
		{3, 0xA0, AddressShort, 1, [2]byte{0x07, 0xA0}},
		{3, 0x80, AddressShort, 0, [2]byte{0x06, 0x80}},
		{0xFF, 0x00, AddressGroup, 0, [2]byte{0xFE, 0x00}},
		{0xFF, 0x05, AddressGroup, 1, [2]byte{0xFF, 0x05}},
		{63, 128, AddressGroup, 1, [2]byte{0xFF, 0x80}},
		{0, 0, AddressShort, 0, [2]byte{0x00, 0x00}},
	}
	for _, c := range cases {
		if got := forwardFrame(c.address, c.value, c.at, c.selector); got != c.want {
			t.Errorf("forwardFrame(%d,%#x,%d,%d) = % x, want % x",
				c.address, c.value, c.at, c.selector, got, c.want)
		}
	}
}

func TestSpecialFrameOpcodeBytes(t *testing.T) {
	// Opcodes 256..287 map onto 0xA1,0xA3..0xBF then 0xC1..0xDF.
	for op := 256; op <= 287; op++ {
		f, ok := specialFrame(SpecialCmd(op), 0x42)
		if !ok {
			t.Fatalf("opcode %d rejected", op)
		}
		want := uint8(0xA1 + 2*(op-256))
		if f[0] != want {
			t.Errorf("opcode %d byte = %#02x, want %#02x", op, f[0], want)
		}
		if f[1] != 0x42 {
			t.Errorf("opcode %d value byte = %#02x", op, f[1])
		}
	}
	if _, ok := specialFrame(255, 0); ok {
		t.Error("opcode 255 accepted")
	}
	if _, ok := specialFrame(288, 0); ok {
		t.Error("opcode 288 accepted")
	}
}

func TestSendSpecialCmdRejectsOutOfRange(t *testing.T) {
	r := newRig(t, false)
	c := NewController(r.bus)
	if got := c.SendSpecialCmd(SpecialCmd(288), 0); got != InvalidParameter {
		t.Fatalf("SendSpecialCmd(288) = %v, want InvalidParameter", got)
	}
}

func TestSendCmdWaitReturnsReply(t *testing.T) {
	r := newRig(t, true)
	c := NewController(r.bus)

	stop := r.pump(func(frame []byte) int {
		if len(frame) == 2 && frame[0] == 0x07 && frame[1] == 0xA0 {
			return 0x80
		}
		return -1
	})
	defer stop()

	got := c.SendCmdWait(3, CmdQueryActualLevel, AddressShort, time.Second)
	if got != 128 {
		t.Fatalf("SendCmdWait = %d, want 128", got)
	}
}

func TestSendCmdWaitConfigDoubleSend(t *testing.T) {
	r := newRig(t, true)
	c := NewController(r.bus)

	var mu sync.Mutex
	var frames [][]byte
	stop := r.pump(func(frame []byte) int {
		mu.Lock()
		frames = append(frames, append([]byte(nil), frame...))
		mu.Unlock()
		return -1
	})

	got := c.SendCmdWait(5, CmdReset, AddressShort, time.Second)
	stop()

	if got != int(RxEmpty) {
		t.Fatalf("SendCmdWait = %d, want RxEmpty", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 2 {
		t.Fatalf("RESET transmitted %d times, want 2", len(frames))
	}
	for _, f := range frames {
		if len(f) != 2 || f[0] != 0x0B || f[1] != 0x20 {
			t.Fatalf("wire frame = % x, want 0b 20", f)
		}
	}
}

func TestSendCmdWaitQuerySingleSend(t *testing.T) {
	r := newRig(t, true)
	c := NewController(r.bus)

	var mu sync.Mutex
	count := 0
	stop := r.pump(func(frame []byte) int {
		mu.Lock()
		count++
		mu.Unlock()
		return -1
	})

	if got := c.SendCmdWait(5, CmdQueryStatus, AddressShort, time.Second); got != int(RxEmpty) {
		t.Fatalf("SendCmdWait = %d, want RxEmpty", got)
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("query transmitted %d times, want 1", count)
	}
}

func TestSendRawWaitReadyTimeout(t *testing.T) {
	r := newRig(t, false)
	c := NewController(r.bus)

	// Arm a frame and never tick: the bus stays busy.
	if got := r.bus.SendRaw([]byte{0xFE, 0x00}, 16); got != Sent {
		t.Fatalf("SendRaw = %v", got)
	}
	got := c.SendRawWait([]byte{0x07, 0xA0}, 16, 5*time.Millisecond)
	if got != int(ReadyTimeout) {
		t.Fatalf("SendRawWait = %d, want ReadyTimeout", got)
	}
}
