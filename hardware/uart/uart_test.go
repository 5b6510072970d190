package uart

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/dalybms/bms"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
)

func resp(cmd protocol.Command, payloadHex string) protocol.Frame {
	return protocol.BuildResponse(cmd, helpers.MustHex(payloadHex))
}

func TestExchange(t *testing.T) {
	t.Parallel()

	soc := resp(protocol.CommandSOC, "0211 0000 7530 0320")
	cells1 := resp(protocol.CommandCellVoltages, "01 0d05 0d06 0d07 00")
	cells2 := resp(protocol.CommandCellVoltages, "02 0d08 0d09 0d0a 00")
	badSum := soc
	badSum.Bytes()[protocol.FrameLength-1]++

	type Case struct {
		name      string
		chunk     int
		req       protocol.Request
		reply     []protocol.Frame
		expect    []string
		expectErr error
	}
	cellsReq := protocol.Request{Command: protocol.CommandCellVoltages, Frames: 2, Sequenced: true}
	cases := []Case{
		{"single", 0, protocol.Request{Command: protocol.CommandSOC, Frames: 1},
			[]protocol.Frame{soc}, []string{"0211000075300320"}, nil},
		{"chunked", 5, protocol.Request{Command: protocol.CommandSOC, Frames: 1},
			[]protocol.Frame{soc}, []string{"0211000075300320"}, nil},
		{"multi", 0, cellsReq,
			[]protocol.Frame{cells1, cells2}, []string{"010d050d060d0700", "020d080d090d0a00"}, nil},
		{"foreign-interleaved", 0, cellsReq,
			[]protocol.Frame{cells1, soc, cells2}, []string{"010d050d060d0700", "020d080d090d0a00"}, nil},
		{"checksum-discarded", 0, cellsReq,
			[]protocol.Frame{cells1, badSum, cells2}, []string{"010d050d060d0700", "020d080d090d0a00"}, nil},
		{"duplicate-not-counted", 0, cellsReq,
			[]protocol.Frame{cells1, cells1, cells2}, []string{"010d050d060d0700", "020d080d090d0a00"}, nil},
		{"surplus-skipped", 0, cellsReq,
			[]protocol.Frame{cells1, resp(protocol.CommandCellVoltages, "03 0d0b 0000 0000 00"), cells2},
			[]string{"010d050d060d0700", "020d080d090d0a00"}, nil},
		{"missing", 0, cellsReq,
			[]protocol.Frame{cells1}, nil, protocol.MissingFrames{Command: protocol.CommandCellVoltages, Expect: 2, Actual: 1}},
		{"only-checksum-fail", 0, protocol.Request{Command: protocol.CommandSOC, Frames: 1},
			[]protocol.Frame{badSum}, nil, protocol.MissingFrames{Command: protocol.CommandSOC, Expect: 1, Actual: 0}},
		{"silent", 0, protocol.Request{Command: protocol.CommandSOC, Frames: 1},
			nil, nil, protocol.MissingFrames{Command: protocol.CommandSOC, Expect: 1, Actual: 0}},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			port := NewMockPort(c.chunk)
			if c.reply != nil {
				port.ReplyFrames(c.req.Command, c.reply...)
			}
			tr := New(port, protocol.AddressSerial, log2.NewTest(t, log2.LDebug))
			payloads, err := tr.Exchange(c.req)
			if c.expectErr != nil {
				assert.Equal(t, c.expectErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			actual := make([]string, len(payloads))
			for i, p := range payloads {
				actual[i] = helpers.HexGroups(p, protocol.PayloadLength)
			}
			assert.Equal(t, c.expect, actual)

			written := port.Written()
			require.Len(t, written, 1)
			f, err := protocol.ParseFrame(written[0])
			require.NoError(t, err)
			assert.Equal(t, byte(0x40), f.Address())
			assert.Equal(t, c.req.Command, f.Command())
		})
	}
}

func TestExchangeClearsStale(t *testing.T) {
	t.Parallel()

	port := NewMockPort(0)
	stale := resp(protocol.CommandSOC, "0000 0000 0000 0000")
	port.Inject(stale.Bytes())
	port.ReplyFrames(protocol.CommandSOC, resp(protocol.CommandSOC, "0211 0000 7530 0320"))
	tr := New(port, protocol.AddressSerial, log2.NewTest(t, log2.LDebug))
	payloads, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	require.NoError(t, err)
	assert.Equal(t, helpers.MustHex("0211000075300320"), payloads[0])
	assert.Equal(t, 1, port.Resets())
}

func TestExchangeReadBudget(t *testing.T) {
	t.Parallel()

	port := NewMockPort(0)
	noise := make([]protocol.Frame, 100)
	for i := range noise {
		noise[i] = resp(protocol.CommandErrors, "0000000000000000")
	}
	port.ReplyFrames(protocol.CommandSOC, noise...)
	tr := New(port, protocol.AddressSerial, log2.NewTest(t, log2.LInfo))
	_, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	assert.Equal(t, protocol.MissingFrames{Command: protocol.CommandSOC, Expect: 1, Actual: 0}, errors.Cause(err))
	assert.Equal(t, uint32(1+readBudgetExtra), tr.Stat().Foreign)
}

func TestExchangePartial(t *testing.T) {
	t.Parallel()

	port := NewMockPort(0)
	soc := resp(protocol.CommandSOC, "0211 0000 7530 0320")
	port.Reply(protocol.CommandSOC, soc.Bytes()[:7])
	tr := New(port, protocol.AddressSerial, log2.NewTest(t, log2.LDebug))
	_, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	_, ok := errors.Cause(err).(protocol.MissingFrames)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), tr.Stat().Partial)
}

func TestExchangeClosed(t *testing.T) {
	t.Parallel()

	tr := New(NewMockPort(0), protocol.AddressSerial, log2.NewTest(t, log2.LDebug))
	require.NoError(t, tr.Close())
	_, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	assert.Equal(t, protocol.ErrNotConnected, errors.Cause(err))
}

func TestClientSequenceRecovery(t *testing.T) {
	t.Parallel()

	port := NewMockPort(0)
	tr := New(port, protocol.AddressSerial, log2.NewTest(t, log2.LDebug))
	client := bms.NewClient(tr, bms.Options{RetryDelay: time.Millisecond, Log: log2.NewTest(t, log2.LDebug)})
	cell := func(hex string) protocol.Frame { return resp(protocol.CommandCellVoltages, hex) }
	c1, c2, c3 := cell("01 0d05 0d06 0d07 00"), cell("02 0d08 0d09 0d0a 00"), cell("03 0d0b 0000 0000 00")
	surplus := cell("04 0000 0000 0000 00")

	port.ReplyFrames(protocol.CommandStatus, resp(protocol.CommandStatus, "07 01 01 00 00 0005 00"))
	// first attempt loses seq 2, retry gets everything plus surplus seq 4 before late seq 2
	port.ReplyFrames(protocol.CommandCellVoltages, c1, c3, surplus)
	port.ReplyFrames(protocol.CommandCellVoltages, c1, c3, surplus, c2)
	_, err := client.Status()
	require.NoError(t, err)
	cells, err := client.CellVoltages()
	require.NoError(t, err)
	assert.Equal(t, bms.Indexed{1: 3.333, 2: 3.334, 3: 3.335, 4: 3.336, 5: 3.337, 6: 3.338, 7: 3.339}, cells)
	assert.Len(t, port.Written(), 3)
}
