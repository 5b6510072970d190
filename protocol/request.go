package protocol

import "fmt"

// Request describes one exchange: what to send and how many response frames make it complete.
type Request struct {
	Command Command
	Extra   []byte
	Frames  int
	// Payloads start with 1-based sequence number.
	// Only sequence 1..Frames counts towards completion, each once.
	Sequenced bool
}

func (self Request) String() string {
	return fmt.Sprintf("command=%s extra=%x frames=%d", self.Command, self.Extra, self.Frames)
}

// Collector accumulates response payloads for one Request.
// Not safe for concurrent use, callers hold their own lock.
type Collector struct {
	req      Request
	payloads [][]byte
	seen     map[byte]struct{}
}

func NewCollector(req Request) *Collector {
	c := &Collector{
		req:      req,
		payloads: make([][]byte, 0, req.Frames),
	}
	if req.Sequenced {
		c.seen = make(map[byte]struct{}, req.Frames)
	}
	return c
}

// Add takes frame of any command.
// Returns UnexpectedCommand for foreign frames, DuplicateFrame for repeated sequence,
// SurplusFrame for sequence outside 1..Frames. In these cases payload is not stored.
func (self *Collector) Add(f *Frame) error {
	if f.Command() != self.req.Command {
		return UnexpectedCommand{Expect: self.req.Command, Actual: f.Command()}
	}
	payload := make([]byte, PayloadLength)
	copy(payload, f.Payload())
	if self.seen != nil {
		seq := payload[0]
		if seq < 1 || int(seq) > self.req.Frames {
			return SurplusFrame{Command: self.req.Command, Seq: int(seq), Frames: self.req.Frames}
		}
		if _, ok := self.seen[seq]; ok {
			return DuplicateFrame{Command: self.req.Command, Seq: int(seq)}
		}
		self.seen[seq] = struct{}{}
	}
	self.payloads = append(self.payloads, payload)
	return nil
}

func (self *Collector) Len() int { return len(self.payloads) }
func (self *Collector) Done() bool { return len(self.payloads) >= self.req.Frames }
func (self *Collector) Payloads() [][]byte { return self.payloads }
func (self *Collector) Missing() MissingFrames {
	return MissingFrames{Command: self.req.Command, Expect: self.req.Frames, Actual: len(self.payloads)}
}
