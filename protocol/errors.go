package protocol

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

var (
	ErrNotConnected  = errors.New("link not connected")
	ErrStatusMissing = errors.New("status prerequisite missing, read status first")
)

type ChecksumMismatch struct {
	Received byte
	Actual   byte
}

func (self ChecksumMismatch) Error() string {
	return fmt.Sprintf("invalid checksum received=%02x actual=%02x", self.Received, self.Actual)
}

// FrameLengthError is wrong size of frame or notification.
type FrameLengthError int

func (self FrameLengthError) Error() string {
	return fmt.Sprintf("unsupported frame size=%d", int(self))
}

type UnexpectedCommand struct {
	Expect Command
	Actual Command
}

func (self UnexpectedCommand) Error() string {
	return fmt.Sprintf("unexpected command=%s expected=%s", self.Actual, self.Expect)
}

type MissingFrames struct {
	Command Command
	Expect  int
	Actual  int
}

func (self MissingFrames) Error() string {
	return fmt.Sprintf("command=%s received frames=%d expected=%d", self.Command, self.Actual, self.Expect)
}

type OutOfOrderFrame struct {
	Command Command
	Expect  int
	Actual  int
}

func (self OutOfOrderFrame) Error() string {
	return fmt.Sprintf("command=%s frame out of order expected=%d actual=%d", self.Command, self.Expect, self.Actual)
}

// DuplicateFrame is a repeated or regressed sequence number.
type DuplicateFrame struct {
	Command Command
	Seq     int
}

func (self DuplicateFrame) Error() string {
	return fmt.Sprintf("command=%s frame repeat seq=%d", self.Command, self.Seq)
}

// SurplusFrame has sequence number outside of expected range, some firmware sends extra frames.
type SurplusFrame struct {
	Command Command
	Seq     int
	Frames  int
}

func (self SurplusFrame) Error() string {
	return fmt.Sprintf("command=%s frame seq=%d outside 1..%d", self.Command, self.Seq, self.Frames)
}

type MalformedPayload struct {
	Command Command
	Expect  int
	Actual  int
	Reason  string
}

func (self MalformedPayload) Error() string {
	if self.Reason != "" {
		return fmt.Sprintf("command=%s malformed payload: %s", self.Command, self.Reason)
	}
	return fmt.Sprintf("command=%s malformed payload length=%d expected=%d", self.Command, self.Actual, self.Expect)
}

type ExchangeTimeout struct {
	Command Command
	After   time.Duration
}

func (self ExchangeTimeout) Error() string {
	return fmt.Sprintf("command=%s response timeout=%v", self.Command, self.After)
}

type Timeouter interface {
	Timeout() bool
}

func (ExchangeTimeout) Timeout() bool { return true }

type RequestFailed struct {
	Command  Command
	Attempts int
	Last     error
}

func (self RequestFailed) Error() string {
	return fmt.Sprintf("command=%s failed after %d tries, last error: %v", self.Command, self.Attempts, self.Last)
}

// IsTimeout reports whether cause of err is a timeout.
func IsTimeout(err error) bool {
	t, ok := errors.Cause(err).(Timeouter)
	return ok && t.Timeout()
}

func IsRequestFailed(err error) bool {
	_, ok := errors.Cause(err).(RequestFailed)
	return ok
}

func IsMalformed(err error) bool {
	_, ok := errors.Cause(err).(MalformedPayload)
	return ok
}
