package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// pico-dali: Pico W carrier with the DALI click board on GP14/GP15 and
// the bus-power relay on a PCF8575 hanging off i2c0.
const cfgPicoDali = `{
  "dali": {
      "tx_pin": 14,
      "rx_pin": 15,
      "active_low": true,
      "power": {"pin": 0, "expander": "i2c0"}
  },
  "heartbeat": {
      "interval": 2
  }
}`

// host: loopback demo wiring, no transceiver polarity games.
const cfgHost = `{
  "dali": {
      "tx_pin": 1,
      "rx_pin": 2,
      "active_low": false
  },
  "heartbeat": {
      "interval": 5
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico-dali": []byte(cfgPicoDali),
	"host":      []byte(cfgHost),
}
