//go:build rp2040 || rp2350

// Pico firmware entry point: DALI gateway on real GPIOs, console on
// uart0, embedded config for the pico-dali carrier board.
package main

import (
	"context"
	"time"

	"dalicode-go/bus"
	"dalicode-go/services/config"
	"dalicode-go/services/console"
	"dalicode-go/services/gateway"
	"dalicode-go/services/gateway/platform"
	"dalicode-go/services/heartbeat"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	ctx := context.Background()
	b := bus.NewBus(16)

	gwConn := b.NewConnection("gateway")
	go gateway.Run(ctx, gwConn,
		platform.DefaultPinFactory(),
		platform.NewTimerFactory(),
		platform.NewClock(),
		platform.DefaultI2CFactory(),
	)

	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, "pico-dali")
	config.NewConfigService().Start(cfgCtx, b.NewConnection("config"))

	u := platform.ConsoleUART(115200)
	console.Run(ctx, b.NewConnection("console"), u, u)
}
