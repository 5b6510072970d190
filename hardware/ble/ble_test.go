package ble

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

func join(fs ...protocol.Frame) []byte {
	b := make([]byte, 0, len(fs)*protocol.FrameLength)
	for i := range fs {
		b = append(b, fs[i].Bytes()...)
	}
	return b
}

func testTransport(t testing.TB, timeout time.Duration) (*Transport, *MockLink) {
	link := NewMockLink()
	tr := New(link, timeout, log2.NewTest(t, log2.LDebug))
	require.NoError(t, tr.Connect())
	return tr, link
}

func hexPayloads(ps [][]byte) []string {
	ss := make([]string, len(ps))
	for i, p := range ps {
		ss[i] = helpers.HexGroups(p, protocol.PayloadLength)
	}
	return ss
}

func TestExchange(t *testing.T) {
	t.Parallel()

	soc := resp(protocol.CommandSOC, "0211 0000 7530 0320")
	cells1 := resp(protocol.CommandCellVoltages, "01 0d05 0d06 0d07 00")
	cells2 := resp(protocol.CommandCellVoltages, "02 0d08 0d09 0d0a 00")
	surplus := resp(protocol.CommandCellVoltages, "03 0000 0000 0000 00")
	badSum := cells2
	badSum.Bytes()[protocol.FrameLength-1]++
	cellsReq := protocol.Request{Command: protocol.CommandCellVoltages, Frames: 2, Sequenced: true}
	cellsExpect := []string{"010d050d060d0700", "020d080d090d0a00"}

	type Case struct {
		name          string
		req           protocol.Request
		notifications [][]byte
		expect        []string
		expectStat    Stat
	}
	cases := []Case{
		{"single", protocol.Request{Command: protocol.CommandSOC, Frames: 1},
			[][]byte{soc.Bytes()}, []string{"0211000075300320"},
			Stat{Request: 1, Frame: 1}},
		{"separate", cellsReq,
			[][]byte{cells1.Bytes(), cells2.Bytes()}, cellsExpect,
			Stat{Request: 1, Frame: 2}},
		{"two-in-one", cellsReq,
			[][]byte{join(cells1, cells2)}, cellsExpect,
			Stat{Request: 1, Frame: 2}},
		{"duplicate", cellsReq,
			[][]byte{join(cells1, cells1), cells2.Bytes()}, cellsExpect,
			Stat{Request: 1, Frame: 2, Duplicate: 1}},
		{"surplus", cellsReq,
			[][]byte{cells1.Bytes(), surplus.Bytes(), cells2.Bytes()}, cellsExpect,
			Stat{Request: 1, Frame: 2, Surplus: 1}},
		{"invalid-half", cellsReq,
			[][]byte{join(cells1, badSum), cells2.Bytes()}, cellsExpect,
			Stat{Request: 1, Frame: 2, Invalid: 1}},
		{"foreign", protocol.Request{Command: protocol.CommandSOC, Frames: 1},
			[][]byte{cells1.Bytes(), soc.Bytes()}, []string{"0211000075300320"},
			Stat{Request: 1, Frame: 1, Late: 1}},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			tr, link := testTransport(t, time.Second)
			link.Reply(c.req.Command, c.notifications...)
			payloads, err := tr.Exchange(c.req)
			require.NoError(t, err)
			assert.Equal(t, c.expect, hexPayloads(payloads))
			assert.Equal(t, c.expectStat, tr.Stat())
			assert.Equal(t, stateComplete, tr.corr.state(c.req.Command))

			written := link.Written()
			require.Len(t, written, 1)
			f, err := protocol.ParseFrame(written[0])
			require.NoError(t, err)
			assert.Equal(t, byte(0x80), f.Address())
			assert.Equal(t, c.req.Command, f.Command())
		})
	}
}

func TestExchangeTimeoutLate(t *testing.T) {
	t.Parallel()

	tr, link := testTransport(t, 20*time.Millisecond)
	req := protocol.Request{Command: protocol.CommandSOC, Frames: 1}
	_, err := tr.Exchange(req)
	assert.Equal(t, protocol.ExchangeTimeout{Command: protocol.CommandSOC, After: 20 * time.Millisecond}, errors.Cause(err))
	assert.True(t, protocol.IsTimeout(err))
	assert.Equal(t, stateAbandoned, tr.corr.state(protocol.CommandSOC))

	stale := resp(protocol.CommandSOC, "0000 0000 0000 0000")
	link.Notify(stale.Bytes())
	assert.Equal(t, uint32(1), tr.Stat().Late)
	assert.Equal(t, uint32(0), tr.Stat().Frame)

	link.ReplyFrames(protocol.CommandSOC, resp(protocol.CommandSOC, "0211 0000 7530 0320"))
	payloads, err := tr.Exchange(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"0211000075300320"}, hexPayloads(payloads))
	assert.Equal(t, uint32(1), tr.Stat().Timeout)
}

func TestExchangeIncomplete(t *testing.T) {
	t.Parallel()

	tr, link := testTransport(t, 20*time.Millisecond)
	link.ReplyFrames(protocol.CommandCellVoltages, resp(protocol.CommandCellVoltages, "01 0d05 0d06 0d07 00"))
	_, err := tr.Exchange(protocol.Request{Command: protocol.CommandCellVoltages, Frames: 2, Sequenced: true})
	assert.True(t, protocol.IsTimeout(err))
	assert.Equal(t, uint32(1), tr.Stat().Frame)
}

func TestSupersede(t *testing.T) {
	t.Parallel()

	var stat Stat
	corr := newCorrelator(log2.NewTest(t, log2.LDebug), &stat)
	req := protocol.Request{Command: protocol.CommandSOC, Frames: 1}
	p1 := corr.expect(req)
	p2 := corr.expect(req)
	assert.Equal(t, stateAbandoned, p1.state)
	assert.Equal(t, stateAwaiting, p2.state)

	f := resp(protocol.CommandSOC, "0211 0000 7530 0320")
	corr.deliver(&f)
	assert.False(t, p1.done.Done())
	assert.True(t, p2.done.Done())
	assert.Equal(t, stateComplete, corr.state(protocol.CommandSOC))

	corr.deliver(&f)
	assert.Equal(t, uint32(1), stat.Late)
}

func TestReconnect(t *testing.T) {
	t.Parallel()

	tr, link := testTransport(t, time.Second)
	link.ReplyFrames(protocol.CommandSOC, resp(protocol.CommandSOC, "0211 0000 7530 0320"))
	link.Drop()
	_, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, link.Connects())
	assert.Equal(t, uint32(1), tr.Stat().Reconnect)

	link.Drop()
	link.ConnectErr = errors.New("adapter busy")
	_, err = tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	assert.Equal(t, protocol.ErrNotConnected, errors.Cause(err))
	assert.Len(t, link.Written(), 1)
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	tr, link := testTransport(t, time.Second)
	link.WriteErr = errors.New("gatt write failed")
	_, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gatt write failed")
	assert.Equal(t, stateAbandoned, tr.corr.state(protocol.CommandSOC))
}

func TestDisconnectCancelsPending(t *testing.T) {
	t.Parallel()

	tr, _ := testTransport(t, 5*time.Second)
	errch := make(chan error, 1)
	go func() {
		_, err := tr.Exchange(protocol.Request{Command: protocol.CommandSOC, Frames: 1})
		errch <- err
	}()
	for tr.corr.state(protocol.CommandSOC) != stateAwaiting {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, tr.Disconnect())
	select {
	case err := <-errch:
		assert.Equal(t, protocol.ErrNotConnected, errors.Cause(err))
	case <-time.After(time.Second):
		t.Fatal("exchange not cancelled by disconnect")
	}
}

func TestClientOverBLE(t *testing.T) {
	t.Parallel()

	tr, link := testTransport(t, 10*time.Millisecond)
	client := bms.NewClient(tr, bms.Options{
		RetryDelay: time.Millisecond,
		Log:        log2.NewTest(t, log2.LDebug),
	})
	link.ReplyFrames(protocol.CommandStatus, resp(protocol.CommandStatus, "04 01 01 00 00 0005 00"))
	link.ReplyFrames(protocol.CommandCellVoltages,
		resp(protocol.CommandCellVoltages, "02 0d08 0000 0000 00"),
		resp(protocol.CommandCellVoltages, "01 0d05 0d06 0d07 00"))
	_, err := client.Status()
	require.NoError(t, err)
	cells, err := client.CellVoltages()
	require.NoError(t, err)
	assert.Equal(t, bms.Indexed{1: 3.333, 2: 3.334, 3: 3.335, 4: 3.336}, cells)

	_, err = client.SOC()
	assert.True(t, protocol.IsRequestFailed(err))
	assert.Equal(t, uint32(3), tr.Stat().Timeout)
}

func TestClientSurplusFrame(t *testing.T) {
	t.Parallel()

	tr, link := testTransport(t, 50*time.Millisecond)
	client := bms.NewClient(tr, bms.Options{
		RetryDelay: time.Millisecond,
		Log:        log2.NewTest(t, log2.LDebug),
	})
	link.ReplyFrames(protocol.CommandStatus, resp(protocol.CommandStatus, "07 01 01 00 00 0005 00"))
	// cells=7 needs frames 1..3, seq 4 is firmware padding and must not complete exchange
	link.ReplyFrames(protocol.CommandCellVoltages,
		resp(protocol.CommandCellVoltages, "01 0d05 0d06 0d07 00"),
		resp(protocol.CommandCellVoltages, "03 0d0b 0000 0000 00"),
		resp(protocol.CommandCellVoltages, "04 0000 0000 0000 00"),
		resp(protocol.CommandCellVoltages, "02 0d08 0d09 0d0a 00"))
	_, err := client.Status()
	require.NoError(t, err)
	cells, err := client.CellVoltages()
	require.NoError(t, err)
	assert.Equal(t, bms.Indexed{1: 3.333, 2: 3.334, 3: 3.335, 4: 3.336, 5: 3.337, 6: 3.338, 7: 3.339}, cells)
	st := tr.Stat()
	assert.Equal(t, uint32(1), st.Surplus)
	assert.Equal(t, uint32(0), st.Late)
	assert.Equal(t, uint32(2), st.Request)
}

func TestBluezDevicePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", string(BluezDevicePath("", "aa:bb:cc:dd:ee:ff")))
	assert.Equal(t, "/org/bluez/hci1/dev_17_71_06_01_0E_B7", string(BluezDevicePath("hci1", "17:71:06:01:0E:B7")))
	assert.True(t, BluezDevicePath("", "aa:bb:cc:dd:ee:ff").IsValid())
}

func TestParseUUID(t *testing.T) {
	t.Parallel()

	short, err := ParseUUID("fff1")
	require.NoError(t, err)
	full, err := ParseUUID("0000fff1-0000-1000-8000-00805f9b34fb")
	require.NoError(t, err)
	assert.Equal(t, short, full)
	_, err = ParseUUID("xyz")
	assert.True(t, errors.IsNotValid(err))
}

func TestCheckAdapter(t *testing.T) {
	t.Parallel()

	name, err := checkAdapter("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAdapter, name)
	name, err = checkAdapter("hci0")
	require.NoError(t, err)
	assert.Equal(t, "hci0", name)
	_, err = checkAdapter("hci1")
	assert.True(t, errors.IsNotSupported(err))
}
