package state

import (
	"context"
	"testing"

	"github.com/temoto/dalybms/hardware/uart"
	"github.com/temoto/dalybms/log2"
)

// NewTestContext returns initialized Global with serial link over mock port.
func NewTestContext(t testing.TB, confString string) (context.Context, *Global, *uart.MockPort) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))

	port := uart.NewMockPort(0)
	g.Hardware.Link = uart.New(port, g.Config.SourceAddress(), log)
	return ctx, g, port
}
