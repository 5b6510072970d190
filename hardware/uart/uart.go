// Package uart is polling transport over serial port (RS485, USB adapter, UART).
// Request is written, then response frames are read back synchronously.
package uart

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
	"go.bug.st/serial"
)

const (
	DefaultDevice = "/dev/ttyUSB0"
	Baud          = 9600
	ReadTimeout   = 500 * time.Millisecond

	// Bound on frames read per exchange, guards against endless unrelated traffic.
	readBudgetExtra = 8
)

// Port is subset of go.bug.st/serial.Port used by Transport.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

type Stat struct {
	Request  uint32
	Frame    uint32
	Checksum uint32
	Foreign  uint32
	Partial  uint32
}

type Transport struct {
	log     *log2.Log
	address byte
	mu      sync.Mutex
	port    Port
	stat    Stat
}

// Open configures serial device 9600 8N1 with 500ms read timeout.
func Open(device string, address byte, log *log2.Log) (*Transport, error) {
	if device == "" {
		device = DefaultDevice
	}
	mode := &serial.Mode{
		BaudRate: Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Annotatef(err, "serial open device=%s", device)
	}
	if err = port.SetReadTimeout(ReadTimeout); err != nil {
		_ = port.Close()
		return nil, errors.Annotatef(err, "serial device=%s set read timeout", device)
	}
	log.Debugf("uart opened device=%s address=%x", device, address)
	return New(port, address, log), nil
}

func New(port Port, address byte, log *log2.Log) *Transport {
	return &Transport{
		log:     log,
		address: address,
		port:    port,
	}
}

func (self *Transport) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port == nil {
		return nil
	}
	err := self.port.Close()
	self.port = nil
	return errors.Annotate(err, "uart close")
}

func (self *Transport) Stat() Stat {
	return Stat{
		Request:  atomic.LoadUint32(&self.stat.Request),
		Frame:    atomic.LoadUint32(&self.stat.Frame),
		Checksum: atomic.LoadUint32(&self.stat.Checksum),
		Foreign:  atomic.LoadUint32(&self.stat.Foreign),
		Partial:  atomic.LoadUint32(&self.stat.Partial),
	}
}

// Exchange clears stale buffered bytes, writes request, reads frames until
// req.Frames matching frames are collected or a read times out empty.
func (self *Transport) Exchange(req protocol.Request) ([][]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port == nil {
		return nil, protocol.ErrNotConnected
	}
	atomic.AddUint32(&self.stat.Request, 1)

	request, err := protocol.BuildRequest(self.address, req.Command, req.Extra)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = self.port.ResetInputBuffer(); err != nil {
		return nil, errors.Annotate(err, "uart reset input")
	}
	if err = self.port.ResetOutputBuffer(); err != nil {
		return nil, errors.Annotate(err, "uart reset output")
	}
	self.log.Debugf("uart w %s", request.Format())
	if err = helpers.WriteAll(self.port, request.Bytes()); err != nil {
		return nil, errors.Annotatef(err, "uart write command=%s", req.Command)
	}

	c := protocol.NewCollector(req)
	var buf [protocol.FrameLength]byte
	budget := req.Frames + readBudgetExtra
	for i := 0; i < budget && !c.Done(); i++ {
		n, err := self.readFrame(buf[:])
		if err != nil {
			return nil, errors.Annotatef(err, "uart read command=%s", req.Command)
		}
		if n == 0 {
			self.log.Debugf("uart %d empty response command=%s", i, req.Command)
			break
		}
		if n < protocol.FrameLength {
			atomic.AddUint32(&self.stat.Partial, 1)
			self.log.Debugf("uart %d partial frame %x", i, buf[:n])
			break
		}
		f, err := protocol.ParseFrame(buf[:])
		if err != nil {
			atomic.AddUint32(&self.stat.Checksum, 1)
			self.log.Debugf("uart %d discard %x err=%v", i, buf[:], err)
			continue
		}
		self.log.Debugf("uart r %s", f.Format())
		if err = c.Add(&f); err != nil {
			if _, ok := err.(protocol.UnexpectedCommand); ok {
				atomic.AddUint32(&self.stat.Foreign, 1)
			}
			self.log.Debugf("uart %d skip: %v", i, err)
			continue
		}
		atomic.AddUint32(&self.stat.Frame, 1)
	}
	if !c.Done() {
		return nil, c.Missing()
	}
	return c.Payloads(), nil
}

// readFrame accumulates up to len(b) bytes, stops early when read times out with nothing.
func (self *Transport) readFrame(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := self.port.Read(b[total:])
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
