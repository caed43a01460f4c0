// drivers/dali/commands.go
package dali

// Cmd is a standard forward-frame command number (IEC 62386-102).
//
//	  0- 31  arc power control
//	 32-143  configuration (32-142 transmitted twice within 100 ms)
//	144-223  queries
//	224-255  application extended
type Cmd uint8

const (
	CmdOff               Cmd = 0
	CmdUp                Cmd = 1
	CmdDown              Cmd = 2
	CmdStepUp            Cmd = 3
	CmdStepDown          Cmd = 4
	CmdRecallMaxLevel    Cmd = 5
	CmdRecallMinLevel    Cmd = 6
	CmdStepDownAndOff    Cmd = 7
	CmdOnAndStepUp       Cmd = 8
	CmdGoToLastActive    Cmd = 10
	CmdGoToScene         Cmd = 16 // +scene 0-15
	CmdReset             Cmd = 32
	CmdStoreActualInDTR  Cmd = 33
	CmdSetMaxLevel       Cmd = 42 // DTR as max level
	CmdSetMinLevel       Cmd = 43
	CmdSetSystemFailure  Cmd = 44
	CmdSetPowerOnLevel   Cmd = 45
	CmdSetFadeTime       Cmd = 46
	CmdSetFadeRate       Cmd = 47
	CmdSetScene          Cmd = 64 // +scene 0-15
	CmdRemoveScene       Cmd = 80 // +scene 0-15
	CmdAddToGroup        Cmd = 96 // +group 0-15
	CmdRemoveFromGroup   Cmd = 112
	CmdDTRAsShort        Cmd = 128 // store DTR as short address
	CmdQueryStatus       Cmd = 144
	CmdQueryGearPresent  Cmd = 145
	CmdQueryLampFailure  Cmd = 146
	CmdQueryLampOn       Cmd = 147
	CmdQueryLimitError   Cmd = 148
	CmdQueryResetState   Cmd = 149
	CmdQueryMissingShort Cmd = 150
	CmdQueryVersion      Cmd = 151
	CmdQueryDTR          Cmd = 152
	CmdQueryDeviceType   Cmd = 153
	CmdQueryPhysMin      Cmd = 154
	CmdQueryPowerFail    Cmd = 155
	CmdQueryActualLevel  Cmd = 160
	CmdQueryMaxLevel     Cmd = 161
	CmdQueryMinLevel     Cmd = 162
	CmdQueryPowerOn      Cmd = 163
	CmdQuerySystemFail   Cmd = 164
	CmdQueryFadeTime     Cmd = 165
	CmdQuerySceneLevel   Cmd = 176 // +scene 0-15
	CmdQueryGroups0_7    Cmd = 192
	CmdQueryGroups8_15   Cmd = 193
	CmdQueryRandomH      Cmd = 194
	CmdQueryRandomM      Cmd = 195
	CmdQueryRandomL      Cmd = 196
)

// doubleSend reports whether cmd is a configuration command that must
// be transmitted twice within 100 ms. IEC 62386 configuration commands
// start at RESET (32); the span runs through 142.
func doubleSend(cmd Cmd) bool { return cmd >= 32 && cmd <= 142 }

// SpecialCmd is a special/extended-special command, numbered 256-287.
// On the wire opcode byte values run 0xA1,0xA3..0xBF then 0xC1..0xDF.
type SpecialCmd uint16

const (
	SpecialTerminate    SpecialCmd = 256
	SpecialSetDTR       SpecialCmd = 257
	SpecialInitialise   SpecialCmd = 258
	SpecialRandomise    SpecialCmd = 259
	SpecialCompare      SpecialCmd = 260
	SpecialWithdraw     SpecialCmd = 261
	SpecialSearchAddrH  SpecialCmd = 264
	SpecialSearchAddrM  SpecialCmd = 265
	SpecialSearchAddrL  SpecialCmd = 266
	SpecialProgramShort SpecialCmd = 267
	SpecialVerifyShort  SpecialCmd = 268
	SpecialQueryShort   SpecialCmd = 269
	SpecialPhysSelect   SpecialCmd = 270

	SpecialEnableDeviceType SpecialCmd = 272
	SpecialSetDTR1          SpecialCmd = 273
	SpecialSetDTR2          SpecialCmd = 274
	SpecialWriteMemory      SpecialCmd = 275
)

// AddressType selects short or group/broadcast addressing in the
// forward-frame address byte.
type AddressType uint8

const (
	AddressShort AddressType = 0
	AddressGroup AddressType = 1
)

// Broadcast is the address passed with AddressGroup to reach every
// gear on the bus (wire bytes 0xFE/0xFF).
const Broadcast uint8 = 0xFF
