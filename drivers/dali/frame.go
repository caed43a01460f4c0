// drivers/dali/frame.go
package dali

// forwardFrame packs a standard 16-bit forward frame:
// YAAAAAAS VVVVVVVV, Y = address type, S = selector (0 arc, 1 command).
func forwardFrame(address, value uint8, at AddressType, selector uint8) [2]byte {
	var f [2]byte
	f[0] = uint8(at)<<7 | address<<1 | selector
	f[1] = value
	return f
}

// specialFrame packs a special-command frame: opcode 256-287 becomes
// ((opcode-256+16)<<1)|0x81 in the first byte.
func specialFrame(cmd SpecialCmd, value uint8) ([2]byte, bool) {
	if cmd < 256 || cmd > 287 {
		return [2]byte{}, false
	}
	var f [2]byte
	f[0] = uint8(cmd-256+16)<<1 | 0b10000001
	f[1] = value
	return f, true
}
