//go:build !rp2040 && !rp2350

// Host-side demo: the full service stack against a loopback line.
// Frames you send from the console go out on the fake bus and come
// back as observed traffic; no gear replies, so queries read empty.
package main

import (
	"context"
	"os"
	"os/signal"

	"dalicode-go/bus"
	"dalicode-go/services/config"
	"dalicode-go/services/console"
	"dalicode-go/services/gateway"
	"dalicode-go/services/gateway/platform"
	"dalicode-go/services/heartbeat"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	b := bus.NewBus(16)

	// Fake pins 1 (tx) and 2 (rx), wired as a loopback pair.
	pins := platform.NewPinFactory(1, 2)

	gwConn := b.NewConnection("gateway")
	go gateway.Run(ctx, gwConn,
		pins,
		platform.NewTimerFactory(),
		platform.NewClock(),
		platform.DefaultI2CFactory(),
	)

	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, "host")
	config.NewConfigService().Start(cfgCtx, b.NewConnection("config"))

	console.Run(ctx, b.NewConnection("console"), os.Stdin, os.Stdout)
}
