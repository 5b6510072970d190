package ble

import (
	"sync"
	"sync/atomic"

	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
)

type exchangeState uint8

const (
	stateIdle exchangeState = iota
	stateAwaiting
	stateComplete
	stateAbandoned
)

func (s exchangeState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaiting:
		return "awaiting"
	case stateComplete:
		return "complete"
	case stateAbandoned:
		return "abandoned"
	}
	return "invalid"
}

// pending is in-flight exchange, result [][]byte is delivered via done.
type pending struct {
	collector *protocol.Collector
	state     exchangeState
	done      *helpers.Future
}

// correlator pairs notification frames with waiting requests.
// At most one pending per command, new expect supersedes previous.
type correlator struct {
	log   *log2.Log
	stat  *Stat
	mu    sync.Mutex
	table map[protocol.Command]*pending
}

func newCorrelator(log *log2.Log, stat *Stat) *correlator {
	return &correlator{
		log:   log,
		stat:  stat,
		table: make(map[protocol.Command]*pending),
	}
}

func (self *correlator) expect(req protocol.Request) *pending {
	p := &pending{
		collector: protocol.NewCollector(req),
		state:     stateAwaiting,
		done:      helpers.NewFuture(),
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if old := self.table[req.Command]; old != nil && old.state == stateAwaiting {
		self.log.Warningf("ble command=%s pending exchange superseded", req.Command)
		old.state = stateAbandoned
	}
	self.table[req.Command] = p
	return p
}

// deliver is called from radio callback goroutine.
func (self *correlator) deliver(f *protocol.Frame) {
	self.mu.Lock()
	defer self.mu.Unlock()
	cmd := f.Command()
	p := self.table[cmd]
	state := stateIdle
	if p != nil {
		state = p.state
	}
	if state != stateAwaiting {
		atomic.AddUint32(&self.stat.Late, 1)
		self.log.Warningf("ble late frame command=%s state=%s dropped %s", cmd, state, f.Format())
		return
	}
	if err := p.collector.Add(f); err != nil {
		if _, ok := err.(protocol.SurplusFrame); ok {
			atomic.AddUint32(&self.stat.Surplus, 1)
		} else {
			atomic.AddUint32(&self.stat.Duplicate, 1)
		}
		self.log.Warningf("ble %v", err)
		return
	}
	atomic.AddUint32(&self.stat.Frame, 1)
	if p.collector.Done() {
		p.state = stateComplete
		p.done.Complete(p.collector.Payloads())
	}
}

// abandon after timeout or write error, later frames go to anomaly path.
func (self *correlator) abandon(p *pending) {
	self.mu.Lock()
	if p.state == stateAwaiting {
		p.state = stateAbandoned
	}
	self.mu.Unlock()
}

func (self *correlator) state(cmd protocol.Command) exchangeState {
	self.mu.Lock()
	defer self.mu.Unlock()
	if p := self.table[cmd]; p != nil {
		return p.state
	}
	return stateIdle
}

// reset abandons everything, used on disconnect.
func (self *correlator) reset() {
	self.mu.Lock()
	for _, p := range self.table {
		if p.state == stateAwaiting {
			p.state = stateAbandoned
			p.done.Cancel(protocol.ErrNotConnected)
		}
	}
	self.mu.Unlock()
}
