package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/dalybms/bms"
	"github.com/temoto/dalybms/hardware/ble"
	"github.com/temoto/dalybms/hardware/uart"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/tele"
)

// Link is connected transport, closed between poll rounds.
type Link interface {
	bms.Exchanger
	Close() error
}

type Global struct {
	Alive    *alive.Alive
	Config   *Config
	Hardware struct {
		// test code sets Link
		Link   Link
		client *bms.Client
	}
	Log  *log2.Log
	Tele *tele.Tele

	lk sync.Mutex
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  new(tele.Tele),
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if level, err := log2.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		g.Log.SetLevel(level)
	}
	g.Log.Debugf("config: transport=%s device=%s address=%d", cfg.TransportName(), cfg.Device(), cfg.SourceAddress())

	if err := g.Tele.Init(ctx, g.Log, g.Config.Tele); err != nil {
		return errors.Annotate(err, "tele init")
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(errors.ErrorStack(err))
	}
}

// BMS returns client over connected link, opening it on first use.
func (g *Global) BMS() (*bms.Client, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.Hardware.client != nil {
		return g.Hardware.client, nil
	}
	if g.Hardware.Link == nil {
		link, err := g.openLink()
		if err != nil {
			return nil, err
		}
		g.Hardware.Link = link
	}
	bmsLog := g.Log.Clone(log2.LInfo)
	if g.Config.BMS.LogDebug {
		bmsLog.SetLevel(log2.LDebug)
	}
	g.Hardware.client = bms.NewClient(g.Hardware.Link, bms.Options{
		Retries:    g.Config.BMS.RequestRetries,
		RetryDelay: g.Config.RetryDelay(),
		Log:        bmsLog,
	})
	return g.Hardware.client, nil
}

// Disconnect closes link, next BMS() call opens new one.
func (g *Global) Disconnect() error {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.Hardware.client = nil
	if g.Hardware.Link == nil {
		return nil
	}
	err := g.Hardware.Link.Close()
	g.Hardware.Link = nil
	return errors.Annotate(err, "disconnect")
}

func (g *Global) openLink() (Link, error) {
	log := g.Log.Clone(log2.LInfo)
	if g.Config.BMS.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	switch g.Config.TransportName() {
	case TransportSerial:
		t, err := uart.Open(g.Config.SerialDevice(), g.Config.SourceAddress(), log)
		if err != nil {
			return nil, errors.Annotate(err, "serial open")
		}
		return t, nil

	case TransportBLE:
		t, err := ble.Open(g.Config.BLEConfig(), log)
		if err != nil {
			return nil, errors.Annotate(err, "ble open")
		}
		return bleLink{t}, nil
	}
	return nil, errors.NotSupportedf("transport=%s", g.Config.TransportName())
}

type bleLink struct{ *ble.Transport }

func (self bleLink) Close() error { return self.Disconnect() }
