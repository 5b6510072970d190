package bms

// Public API to easy create BMS stubs to test your code.
import (
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/protocol"
)

type mockReply struct {
	payloads [][]byte
	err      error
}

// MockExchanger replies with scripted payloads per command, records requests.
type MockExchanger struct {
	t        testing.TB
	mu       sync.Mutex
	requests []protocol.Request
	replies  map[protocol.Command][]mockReply
}

var _ Exchanger = &MockExchanger{}

func NewMockExchanger(t testing.TB) *MockExchanger {
	return &MockExchanger{
		t:       t,
		replies: make(map[protocol.Command][]mockReply),
	}
}

// Expect queues one successful exchange, payloads in hex, spaces allowed.
func (self *MockExchanger) Expect(cmd protocol.Command, payloadsHex ...string) {
	ps := make([][]byte, len(payloadsHex))
	for i, s := range payloadsHex {
		ps[i] = helpers.MustHex(s)
	}
	self.push(cmd, mockReply{payloads: ps})
}

func (self *MockExchanger) ExpectError(cmd protocol.Command, err error) {
	self.push(cmd, mockReply{err: err})
}

// ExpectStatus queues status response with given cell and sensor count.
func (self *MockExchanger) ExpectStatus(cells, sensors int) {
	p := make([]byte, protocol.PayloadLength)
	p[0], p[1] = byte(cells), byte(sensors)
	self.push(protocol.CommandStatus, mockReply{payloads: [][]byte{p}})
}

func (self *MockExchanger) push(cmd protocol.Command, r mockReply) {
	self.mu.Lock()
	self.replies[cmd] = append(self.replies[cmd], r)
	self.mu.Unlock()
}

func (self *MockExchanger) Exchange(req protocol.Request) ([][]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.requests = append(self.requests, req)
	q := self.replies[req.Command]
	if len(q) == 0 {
		self.t.Errorf("mock unexpected exchange %s", req)
		return nil, errors.Errorf("mock no reply for %s", req)
	}
	r := q[0]
	self.replies[req.Command] = q[1:]
	return r.payloads, r.err
}

func (self *MockExchanger) Requests() []protocol.Request {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]protocol.Request(nil), self.requests...)
}

func (self *MockExchanger) Count(cmd protocol.Command) int {
	n := 0
	for _, r := range self.Requests() {
		if r.Command == cmd {
			n++
		}
	}
	return n
}

// ExpectDone fails test if scripted replies were left unused.
func (self *MockExchanger) ExpectDone() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for cmd, q := range self.replies {
		if len(q) != 0 {
			self.t.Errorf("mock unused replies command=%s count=%d", cmd, len(q))
		}
	}
}
