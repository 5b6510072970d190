package ble

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/protocol"
)

// MockLink replies to written requests with configured notifications.
// Replies are delivered synchronously from Write.
type MockLink struct {
	mu         sync.Mutex
	connected  bool
	onNotify   func([]byte)
	replies    map[protocol.Command][][]byte
	written    [][]byte
	connects   int
	ConnectErr error
	WriteErr   error
}

var _ Link = &MockLink{}

func NewMockLink() *MockLink {
	return &MockLink{replies: make(map[protocol.Command][][]byte)}
}

// Reply sets notifications sent after each request with cmd.
// Each notification may be one or two frames long.
func (self *MockLink) Reply(cmd protocol.Command, notifications ...[]byte) {
	self.mu.Lock()
	self.replies[cmd] = notifications
	self.mu.Unlock()
}

// ReplyFrames sends each frame as separate notification.
func (self *MockLink) ReplyFrames(cmd protocol.Command, frames ...protocol.Frame) {
	ns := make([][]byte, len(frames))
	for i := range frames {
		ns[i] = append([]byte(nil), frames[i].Bytes()...)
	}
	self.Reply(cmd, ns...)
}

// Notify injects unsolicited notification.
func (self *MockLink) Notify(b []byte) {
	self.mu.Lock()
	fun := self.onNotify
	self.mu.Unlock()
	if fun != nil {
		fun(b)
	}
}

// Drop simulates remote disconnect.
func (self *MockLink) Drop() {
	self.mu.Lock()
	self.connected = false
	self.mu.Unlock()
}

func (self *MockLink) Connect(onNotify func([]byte)) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.connects++
	if self.ConnectErr != nil {
		return self.ConnectErr
	}
	self.onNotify = onNotify
	self.connected = true
	return nil
}

func (self *MockLink) Connected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}

func (self *MockLink) Disconnect() error {
	self.Drop()
	return nil
}

func (self *MockLink) Write(b []byte) error {
	self.mu.Lock()
	if !self.connected {
		self.mu.Unlock()
		return errors.Trace(errNotConnected)
	}
	if self.WriteErr != nil {
		self.mu.Unlock()
		return self.WriteErr
	}
	self.written = append(self.written, append([]byte(nil), b...))
	var replies [][]byte
	if f, err := protocol.ParseFrame(b); err == nil {
		replies = self.replies[f.Command()]
	}
	fun := self.onNotify
	self.mu.Unlock()

	for _, n := range replies {
		fun(n)
	}
	return nil
}

func (self *MockLink) Written() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([][]byte(nil), self.written...)
}

func (self *MockLink) Connects() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connects
}
