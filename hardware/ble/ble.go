// Package ble is notification transport over Bluetooth Low Energy.
// Requests are written to write characteristic, responses arrive
// asynchronously on notify characteristic and are paired by command code.
package ble

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultConnectTimeout = 15 * time.Second
	DefaultAdapter        = "hci0"
)

type Config struct {
	MAC            string
	Adapter        string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	ServiceUUID    string
	NotifyUUID     string
	WriteUUID      string
	KickUUID       string
}

// Link is GATT connection to BMS.
type Link interface {
	// Connect subscribes onNotify to notify characteristic, may be called again after Disconnect.
	Connect(onNotify func([]byte)) error
	Write(b []byte) error
	Connected() bool
	Disconnect() error
}

type Stat struct {
	Request   uint32
	Frame     uint32
	Late      uint32
	Duplicate uint32
	Surplus   uint32
	Invalid   uint32
	Timeout   uint32
	Reconnect uint32
}

type Transport struct {
	log     *log2.Log
	link    Link
	address byte
	timeout time.Duration
	stat    Stat
	corr    *correlator
	wlk     sync.Mutex
}

func New(link Link, timeout time.Duration, log *log2.Log) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	self := &Transport{
		log:     log,
		link:    link,
		address: protocol.AddressBLE,
		timeout: timeout,
	}
	self.corr = newCorrelator(log, &self.stat)
	return self
}

// Open makes radio link from config and connects.
func Open(config Config, log *log2.Log) (*Transport, error) {
	link, err := NewRadioLink(config, log)
	if err != nil {
		return nil, errors.Trace(err)
	}
	self := New(link, config.Timeout, log)
	if err = self.Connect(); err != nil {
		return nil, err
	}
	return self, nil
}

func (self *Transport) Connect() error {
	self.log.Infof("bluetooth connecting")
	if err := self.link.Connect(self.onNotify); err != nil {
		return errors.Annotate(err, "bluetooth connect")
	}
	self.log.Infof("bluetooth connected")
	return nil
}

func (self *Transport) Connected() bool { return self.link.Connected() }

func (self *Transport) Disconnect() error {
	self.corr.reset()
	if !self.link.Connected() {
		return nil
	}
	self.log.Infof("bluetooth disconnecting")
	err := self.link.Disconnect()
	return errors.Annotate(err, "bluetooth disconnect")
}

func (self *Transport) Stat() Stat {
	return Stat{
		Request:   atomic.LoadUint32(&self.stat.Request),
		Frame:     atomic.LoadUint32(&self.stat.Frame),
		Late:      atomic.LoadUint32(&self.stat.Late),
		Duplicate: atomic.LoadUint32(&self.stat.Duplicate),
		Surplus:   atomic.LoadUint32(&self.stat.Surplus),
		Invalid:   atomic.LoadUint32(&self.stat.Invalid),
		Timeout:   atomic.LoadUint32(&self.stat.Timeout),
		Reconnect: atomic.LoadUint32(&self.stat.Reconnect),
	}
}

// onNotify runs on radio stack goroutine.
func (self *Transport) onNotify(b []byte) {
	self.log.Debugf("ble notify len=%d %x", len(b), b)
	frames, err := protocol.SplitNotification(b)
	if err != nil {
		atomic.AddUint32(&self.stat.Invalid, 1)
		self.log.Infof("ble notification invalid: %v", err)
	}
	for i := range frames {
		self.corr.deliver(&frames[i])
	}
}

// Exchange registers pending exchange, writes request and waits for
// all frames or timeout. Timed out exchange is abandoned in place.
func (self *Transport) Exchange(req protocol.Request) ([][]byte, error) {
	atomic.AddUint32(&self.stat.Request, 1)
	request, err := protocol.BuildRequest(self.address, req.Command, req.Extra)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !self.link.Connected() {
		atomic.AddUint32(&self.stat.Reconnect, 1)
		self.log.Infof("bluetooth not connected, reconnecting")
		if err = self.link.Connect(self.onNotify); err != nil {
			self.log.Debugf("bluetooth reconnect err=%v", err)
			return nil, protocol.ErrNotConnected
		}
	}

	p := self.corr.expect(req)
	self.log.Debugf("ble w %s", request.Format())
	self.wlk.Lock()
	err = self.link.Write(request.Bytes())
	self.wlk.Unlock()
	if err != nil {
		self.corr.abandon(p)
		return nil, errors.Annotatef(err, "ble write command=%s", req.Command)
	}

	result, ok := p.done.Wait(self.timeout)
	if !ok {
		self.corr.abandon(p)
		if e, isErr := result.(error); isErr {
			return nil, e
		}
		atomic.AddUint32(&self.stat.Timeout, 1)
		self.log.Warningf("ble timeout waiting for command=%s response", req.Command)
		return nil, protocol.ExchangeTimeout{Command: req.Command, After: self.timeout}
	}
	return result.([][]byte), nil
}
