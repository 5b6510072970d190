package poll

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/protocol"
	"github.com/temoto/dalybms/state"
	"github.com/temoto/dalybms/tele"
)

type recorder struct {
	sync.Mutex
	records []tele.Record
}

func (self *recorder) publish(r tele.Record) error {
	self.Lock()
	self.records = append(self.records, r)
	self.Unlock()
	return nil
}

func (self *recorder) titles() []string {
	self.Lock()
	defer self.Unlock()
	ss := make([]string, len(self.records))
	for i, r := range self.records {
		ss[i] = r.Measurement
	}
	return ss
}

func newTestSession(t testing.TB) (*Session, *recorder) {
	_, g, port := state.NewTestContext(t, `bms { request_retries = -1 } serial { device = "/dev/mock" }`)
	port.ReplyFrames(protocol.CommandStatus, protocol.BuildResponse(protocol.CommandStatus, helpers.MustHex("0000000000000000")))
	port.ReplyFrames(protocol.CommandSOC, protocol.BuildResponse(protocol.CommandSOC, helpers.MustHex("0211000075300320")))
	rec := &recorder{}
	s := NewSession(g)
	s.publish = rec.publish
	return s, rec
}

func TestRound(t *testing.T) {
	t.Parallel()

	s, rec := newTestSession(t)
	n, err := s.Round()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"Status", "SOC", "CellVoltages", "Temperatures"}, rec.titles())
	assert.Equal(t, "/dev/mock", rec.records[1].Device)
	assert.False(t, s.lastData.IsZero())
	assert.Nil(t, s.g.Hardware.Link)
}

func TestRunOneshot(t *testing.T) {
	t.Parallel()

	s, rec := newTestSession(t)
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("oneshot did not finish")
	}
	assert.True(t, s.received)
	assert.Len(t, rec.titles(), 4)
}

func TestCheckWatchdog(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t)
	err := s.check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed receive data")
	assert.False(t, s.received)

	s.lastData.Set(atomic_clock.Source() - int64(time.Minute))
	err = s.check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "didn't receive data for 60.")
	assert.False(t, s.received)

	s.lastData.SetNow()
	require.NoError(t, s.check())
	assert.True(t, s.received)
}
