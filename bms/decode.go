package bms

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
)

type kind uint8

const (
	kindPad kind = iota
	kindU8
	kindI8
	kindU16
	kindI16
	kindU32
	kindI32
	kindBool
	kindBits
)

var kindWidth = [...]int{
	kindPad:  0,
	kindU8:   1,
	kindI8:   1,
	kindU16:  2,
	kindI16:  2,
	kindU32:  4,
	kindI32:  4,
	kindBool: 1,
	kindBits: 1,
}

// field value = (raw - bias) / scale, negated by reverse().
// scale=0 keeps integer result.
type field struct {
	name      string
	kind      kind
	pad       int
	bias      int64
	negate    bool
	scale     float64
	enum      map[int64]string
	otherwise string
	bits      []string
}

func u8(name string) field { return field{name: name, kind: kindU8} }
func u16(name string) field { return field{name: name, kind: kindU16} }
func u32(name string) field { return field{name: name, kind: kindU32} }
func i32(name string) field { return field{name: name, kind: kindI32} }
func flag(name string) field { return field{name: name, kind: kindBool} }
func pad(n int) field { return field{kind: kindPad, pad: n} }

// Device encodes 0 as -40 C.
func temperature(name string) field { return u8(name).offset(40) }

// bitset expands into bool per name, LSB first.
func bitset(names ...string) field { return field{kind: kindBits, bits: names} }

func (f field) div(scale float64) field {
	f.scale = scale
	return f
}

func (f field) offset(bias int64) field {
	f.bias = bias
	return f
}

func (f field) reverse() field {
	f.negate = true
	return f
}

func (f field) names(m map[int64]string, otherwise string) field {
	f.enum, f.otherwise = m, otherwise
	return f
}

func (f field) width() int {
	if f.kind == kindPad {
		return f.pad
	}
	return kindWidth[f.kind]
}

func (f field) raw(b []byte) int64 {
	switch f.kind {
	case kindU8, kindBool, kindBits:
		return int64(b[0])
	case kindI8:
		return int64(int8(b[0]))
	case kindU16:
		return int64(binary.BigEndian.Uint16(b))
	case kindI16:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case kindU32:
		return int64(binary.BigEndian.Uint32(b))
	case kindI32:
		return int64(int32(binary.BigEndian.Uint32(b)))
	}
	return 0
}

func (f field) value(raw int64) interface{} {
	if f.kind == kindBool {
		return raw != 0
	}
	if f.enum != nil {
		if s, ok := f.enum[raw]; ok {
			return s
		}
		return f.otherwise
	}
	x := raw - f.bias
	if f.negate {
		x = -x
	}
	if f.scale == 0 {
		return int(x)
	}
	return float64(x) / f.scale
}

type layout []field

func (self layout) width() int {
	w := 0
	for _, f := range self {
		w += f.width()
	}
	return w
}

func (self layout) decode(cmd protocol.Command, b []byte) (Fields, error) {
	if w := self.width(); len(b) != w {
		return nil, protocol.MalformedPayload{Command: cmd, Expect: w, Actual: len(b)}
	}
	result := make(Fields, len(self)+8)
	offset := 0
	for _, f := range self {
		w := f.width()
		if f.kind != kindPad {
			raw := f.raw(b[offset : offset+w])
			if f.kind == kindBits {
				for i, name := range f.bits {
					result[name] = raw&(1<<uint(i)) != 0
				}
			} else {
				result[f.name] = f.value(raw)
			}
		}
		offset += w
	}
	return result, nil
}

type decoder struct {
	cmd    protocol.Command
	status Status
	log    *log2.Log
}

func (self *decoder) single(payloads [][]byte) ([]byte, error) {
	if len(payloads) != 1 {
		return nil, protocol.MalformedPayload{
			Command: self.cmd,
			Reason:  fmt.Sprintf("frames=%d expected=1", len(payloads)),
		}
	}
	return payloads[0], nil
}

func decodeLayout(l layout) decodeFunc {
	return func(d *decoder, payloads [][]byte) (interface{}, error) {
		b, err := d.single(payloads)
		if err != nil {
			return nil, err
		}
		return l.decode(d.cmd, b)
	}
}

// reassemble consumes sequenced frames in order until count values are collected.
// Out of order frames are held back, repeated or regressed sequence is dropped.
func (self *decoder) reassemble(payloads [][]byte, count, perFrame, valueWidth int, conv func([]byte) interface{}) (Indexed, error) {
	frameWidth := 1 + perFrame*valueWidth
	bySeq := make(map[int][]byte, len(payloads))
	expect := 1
	for _, p := range payloads {
		if len(p) < frameWidth {
			return nil, protocol.MalformedPayload{Command: self.cmd, Expect: frameWidth, Actual: len(p)}
		}
		seq := int(p[0])
		if _, dup := bySeq[seq]; dup || seq < expect {
			self.log.Warning(protocol.DuplicateFrame{Command: self.cmd, Seq: seq}.Error())
			continue
		}
		if seq != expect {
			self.log.Warning(protocol.OutOfOrderFrame{Command: self.cmd, Expect: expect, Actual: seq}.Error())
		}
		bySeq[seq] = p
		for bySeq[expect] != nil {
			expect++
		}
	}

	result := make(Indexed, count)
	for seq := 1; len(result) < count; seq++ {
		p, ok := bySeq[seq]
		if !ok {
			return nil, protocol.MalformedPayload{
				Command: self.cmd,
				Reason:  fmt.Sprintf("missing frame seq=%d values=%d/%d", seq, len(result), count),
			}
		}
		for i := 0; i < perFrame && len(result) < count; i++ {
			offset := 1 + i*valueWidth
			result[len(result)+1] = conv(p[offset : offset+valueWidth])
		}
	}
	return result, nil
}

func decodeCellVoltages(d *decoder, payloads [][]byte) (interface{}, error) {
	return d.reassemble(payloads, d.status.Cells, cellsPerFrame, 2, func(b []byte) interface{} {
		return float64(binary.BigEndian.Uint16(b)) / 1000
	})
}

func decodeTemperatures(d *decoder, payloads [][]byte) (interface{}, error) {
	return d.reassemble(payloads, d.status.TemperatureSensors, sensorsPerFrame, 1, func(b []byte) interface{} {
		return int(b[0]) - 40
	})
}

// Bit k of big-endian payload, LSB first, is balancing state of cell k+1.
func decodeBalancing(d *decoder, payloads [][]byte) (interface{}, error) {
	b, err := d.single(payloads)
	if err != nil {
		return nil, err
	}
	if len(b) != protocol.PayloadLength {
		return nil, protocol.MalformedPayload{Command: d.cmd, Expect: protocol.PayloadLength, Actual: len(b)}
	}
	if d.status.Cells > 64 {
		return nil, protocol.MalformedPayload{Command: d.cmd, Reason: fmt.Sprintf("cells=%d exceeds 64 bits", d.status.Cells)}
	}
	bits := binary.BigEndian.Uint64(b)
	d.log.Debugf("balancing bits=%064b", bits)
	result := make(Indexed, d.status.Cells)
	for cell := 1; cell <= d.status.Cells; cell++ {
		result[cell] = bits&(1<<uint(cell-1)) != 0
	}
	return result, nil
}

func decodeFaults(d *decoder, payloads [][]byte) (interface{}, error) {
	b, err := d.single(payloads)
	if err != nil {
		return nil, err
	}
	if len(b) != protocol.PayloadLength {
		return nil, protocol.MalformedPayload{Command: d.cmd, Expect: protocol.PayloadLength, Actual: len(b)}
	}
	return FaultsFromBytes(b), nil
}

// Version is split over two frames, first byte of each is sequence.
func decodeVersion(d *decoder, payloads [][]byte) (interface{}, error) {
	if len(payloads) != 2 {
		return nil, protocol.MalformedPayload{Command: d.cmd, Reason: fmt.Sprintf("frames=%d expected=2", len(payloads))}
	}
	first, second := payloads[0], payloads[1]
	if len(first) < 1 || len(second) < 1 {
		return nil, protocol.MalformedPayload{Command: d.cmd, Reason: "empty version frame"}
	}
	if first[0] > second[0] {
		first, second = second, first
	}
	text := make([]byte, 0, len(first)+len(second)-2)
	text = append(text, first[1:]...)
	text = append(text, second[1:]...)
	text = bytes.TrimRight(text, "\x00 ")
	return Fields{"version": string(text)}, nil
}
