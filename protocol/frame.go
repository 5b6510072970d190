// Package protocol implements Daly BMS wire frames.
//
// Frame is 13 bytes:
//   a5 | address | command | 08 | 8 bytes payload | sum8 checksum
// Request address is source nibble in high half: 0x40 serial (RS485/USB), 0x80 bluetooth/UART.
// BMS responds with address 0x01 and same command code.
package protocol

import (
	"encoding/hex"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/crc"
	"github.com/temoto/dalybms/helpers"
)

const (
	StartByte     byte = 0xa5
	FrameLength        = 13
	PayloadLength      = 8
	HeaderLength       = 4

	// Source address nibbles.
	AddressSerial byte = 4
	AddressBLE    byte = 8

	ResponseAddress byte = 0x01

	offsetCommand = 2
	offsetLength  = 3
)

type Frame struct {
	b [FrameLength]byte
}

func BuildRequest(address byte, cmd Command, extra []byte) (Frame, error) {
	f := Frame{}
	if address > 0x0f {
		return f, errors.NotValidf("address=%x nibble", address)
	}
	if len(extra) > PayloadLength {
		return f, errors.NotValidf("extra=%x length=%d > max=%d", extra, len(extra), PayloadLength)
	}
	f.b[0] = StartByte
	f.b[1] = address << 4
	f.b[offsetCommand] = byte(cmd)
	f.b[offsetLength] = PayloadLength
	copy(f.b[HeaderLength:], extra)
	f.b[FrameLength-1] = crc.Sum8(f.b[:FrameLength-1])
	return f, nil
}

// BuildResponse makes a frame as sent by BMS, used by device mocks.
func BuildResponse(cmd Command, payload []byte) Frame {
	f := Frame{}
	f.b[0] = StartByte
	f.b[1] = ResponseAddress
	f.b[offsetCommand] = byte(cmd)
	f.b[offsetLength] = PayloadLength
	copy(f.b[HeaderLength:FrameLength-1], payload)
	f.b[FrameLength-1] = crc.Sum8(f.b[:FrameLength-1])
	return f
}

// BuildRequestHex takes extra payload as hex string, as typed in CLI.
func BuildRequestHex(address byte, cmd Command, extraHex string) (Frame, error) {
	extra, err := hex.DecodeString(extraHex)
	if err != nil {
		return Frame{}, errors.Annotatef(err, "extra=%s", extraHex)
	}
	return BuildRequest(address, cmd, extra)
}

func MustBuildRequest(address byte, cmd Command, extra []byte) Frame {
	f, err := BuildRequest(address, cmd, extra)
	if err != nil {
		panic(errors.ErrorStack(err))
	}
	return f
}

// ParseFrame validates length and checksum. On error returned frame is unusable.
func ParseFrame(b []byte) (Frame, error) {
	f := Frame{}
	if len(b) != FrameLength {
		return f, FrameLengthError(len(b))
	}
	actual := crc.Sum8(b[:FrameLength-1])
	if received := b[FrameLength-1]; received != actual {
		return f, ChecksumMismatch{Received: received, Actual: actual}
	}
	copy(f.b[:], b)
	return f, nil
}

// SplitNotification cuts BLE notification into frames, each validated independently.
// Valid frames are returned even when other half failed, err reports the first failure.
func SplitNotification(b []byte) ([]Frame, error) {
	switch len(b) {
	case FrameLength, 2 * FrameLength:
	default:
		return nil, FrameLengthError(len(b))
	}
	frames := make([]Frame, 0, 2)
	var firstErr error
	for i := 0; i+FrameLength <= len(b); i += FrameLength {
		f, err := ParseFrame(b[i : i+FrameLength])
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Annotatef(err, "notification part=%d", i/FrameLength)
			}
			continue
		}
		frames = append(frames, f)
	}
	return frames, firstErr
}

func (self *Frame) Bytes() []byte { return self.b[:] }
func (self *Frame) Address() byte { return self.b[1] }
func (self *Frame) Command() Command { return Command(self.b[offsetCommand]) }
func (self *Frame) Payload() []byte { return self.b[HeaderLength : FrameLength-1] }
func (self *Frame) Checksum() byte { return self.b[FrameLength-1] }

// Format is hex grouped by header, payload, checksum: "a5409008 0000000000000000 7d".
func (self *Frame) Format() string {
	return helpers.HexGroups(self.b[:HeaderLength], HeaderLength) + " " +
		hex.EncodeToString(self.Payload()) + " " +
		hex.EncodeToString(self.b[FrameLength-1:])
}

func (self Frame) String() string { return self.Format() }
