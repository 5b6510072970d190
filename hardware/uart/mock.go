package uart

import (
	"bytes"
	"io"
	"sync"

	"github.com/temoto/dalybms/protocol"
)

// MockPort emulates BMS on the other end of serial line.
// Read returns (0, nil) when nothing is buffered, same as real port on timeout.
type MockPort struct {
	mu      sync.Mutex
	rbuf    bytes.Buffer
	chunk   int
	replies map[protocol.Command][][]byte
	written [][]byte
	resets  int
	closed  bool
}

var _ Port = &MockPort{}

// NewMockPort returns at most chunk bytes per Read, 0 means unlimited.
func NewMockPort(chunk int) *MockPort {
	return &MockPort{
		chunk:   chunk,
		replies: make(map[protocol.Command][][]byte),
	}
}

// Reply queues raw bytes sent back on next request of cmd.
func (self *MockPort) Reply(cmd protocol.Command, b []byte) {
	self.mu.Lock()
	self.replies[cmd] = append(self.replies[cmd], b)
	self.mu.Unlock()
}

// ReplyFrames is Reply with concatenated response frames.
func (self *MockPort) ReplyFrames(cmd protocol.Command, frames ...protocol.Frame) {
	var b []byte
	for _, f := range frames {
		b = append(b, f.Bytes()...)
	}
	self.Reply(cmd, b)
}

// Inject puts bytes into receive buffer right away, like line noise.
func (self *MockPort) Inject(b []byte) {
	self.mu.Lock()
	self.rbuf.Write(b)
	self.mu.Unlock()
}

func (self *MockPort) Read(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return 0, io.ErrClosedPipe
	}
	if self.chunk > 0 && len(p) > self.chunk {
		p = p[:self.chunk]
	}
	n, _ := self.rbuf.Read(p)
	return n, nil
}

func (self *MockPort) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return 0, io.ErrClosedPipe
	}
	self.written = append(self.written, append([]byte(nil), p...))
	if f, err := protocol.ParseFrame(p); err == nil {
		q := self.replies[f.Command()]
		if len(q) > 0 {
			self.rbuf.Write(q[0])
			self.replies[f.Command()] = q[1:]
		}
	}
	return len(p), nil
}

func (self *MockPort) ResetInputBuffer() error {
	self.mu.Lock()
	self.rbuf.Reset()
	self.resets++
	self.mu.Unlock()
	return nil
}

func (self *MockPort) ResetOutputBuffer() error { return nil }

func (self *MockPort) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

func (self *MockPort) Written() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([][]byte(nil), self.written...)
}

func (self *MockPort) Resets() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.resets
}
