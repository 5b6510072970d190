// Poll mode: read all measurements, publish records, repeat every loop_sec.
package poll

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/dalybms/bms"
	"github.com/temoto/dalybms/cmd/dalybms/subcmd"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/state"
	"github.com/temoto/dalybms/tele"
)

const (
	DefaultWatchdog = 30 * time.Second
	oneshotPause    = 1 * time.Second
)

var Mod = subcmd.Mod{Name: "poll", Usage: "read measurements and publish, once or every -loop seconds", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Tele.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		g.Log.Infof("signal=%v stopping", s)
		subcmd.SdNotify(daemon.SdNotifyStopping)
		g.Alive.Stop()
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	err := NewSession(g).Run()
	if err := g.Disconnect(); err != nil {
		g.Log.Error(err)
	}
	g.Alive.Stop()
	return err
}

type Session struct {
	g        *state.Global
	log      *log2.Log
	device   string
	loop     time.Duration
	watchdog time.Duration
	backoff  helpers.Backoff
	lastData atomic_clock.Clock
	received bool
	publish  func(tele.Record) error
}

func NewSession(g *state.Global) *Session {
	return &Session{
		g:        g,
		log:      g.Log,
		device:   g.Config.Device(),
		loop:     helpers.IntSecondDefault(g.Config.LoopSec, 0),
		watchdog: DefaultWatchdog,
		backoff:  helpers.Backoff{Min: 1 * time.Second, Max: 2 * time.Minute, K: 2},
		publish:  g.Tele.Publish,
	}
}

// Run repeats rounds until stopped. Oneshot mode (loop=0) returns after first data.
func (self *Session) Run() error {
	if self.loop == 0 {
		self.log.Debugf("starting oneshot")
	} else {
		self.log.Debugf("starting loop=%v", self.loop)
	}
	for self.g.Alive.IsRunning() {
		if d := self.backoff.DelayBefore(); d > 0 {
			self.log.Infof("reconnect in %v failures=%d", d, self.backoff.Failures())
			if !self.sleep(d) {
				break
			}
		}
		n, err := self.Round()
		self.backoff.Update(err == nil)
		if err != nil {
			self.log.Errorf("no connection made, waiting and retry: %v", err)
			continue
		}
		self.log.Debugf("run done published=%d", n)
		if err := self.check(); err != nil {
			self.log.Error(err)
		}
		if self.loop == 0 && self.received {
			self.log.Debugf("oneshot finished")
			return nil
		}
		pause := self.loop
		if pause == 0 {
			pause = oneshotPause
		}
		if !self.sleep(pause) {
			break
		}
	}
	self.log.Infof("loop ended")
	return nil
}

// Round connects, reads measurements in poll order, publishes each success and disconnects.
// Error is returned only when connection failed.
func (self *Session) Round() (int, error) {
	client, err := self.g.BMS()
	if err != nil {
		return 0, errors.Annotate(err, "connect")
	}
	defer func() {
		if err := self.g.Disconnect(); err != nil {
			self.log.Error(err)
		}
	}()

	published := 0
	for _, cmd := range bms.PollOrder {
		if !self.g.Alive.IsRunning() {
			break
		}
		title := bms.Title(cmd)
		v, err := client.Read(cmd)
		if err != nil {
			self.log.Warningf("failed to receive %s: %v", title, err)
			continue
		}
		r := tele.Record{Measurement: title, Device: self.device, Time: time.Now(), Data: v}
		if err = self.publish(r); err != nil {
			self.g.Error(err, "publish %s", title)
			continue
		}
		self.lastData.SetNow()
		published++
	}
	return published, nil
}

// check returns error when no data was received at all or for longer than watchdog.
func (self *Session) check() error {
	if self.lastData.IsZero() {
		return errors.New("failed receive data")
	}
	if since := atomic_clock.Since(&self.lastData); since > self.watchdog {
		return errors.Errorf("BMS didn't receive data for %.1f seconds", since.Seconds())
	}
	if !self.received {
		self.log.Infof("first received data")
		self.received = true
	}
	return nil
}

// sleep returns false when stopped.
func (self *Session) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-self.g.Alive.StopChan():
		return false
	}
}
