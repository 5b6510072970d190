package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	t.Parallel()

	seq := func(n byte) *Frame {
		f := BuildResponse(CommandTemperatures, []byte{n, 60, 61, 62, 63, 64, 65, 66})
		return &f
	}

	t.Run("sequenced", func(t *testing.T) {
		c := NewCollector(Request{Command: CommandTemperatures, Frames: 2, Sequenced: true})
		require.NoError(t, c.Add(seq(1)))
		assert.Equal(t, DuplicateFrame{Command: CommandTemperatures, Seq: 1}, c.Add(seq(1)))
		assert.False(t, c.Done())
		assert.Equal(t, MissingFrames{Command: CommandTemperatures, Expect: 2, Actual: 1}, c.Missing())
		require.NoError(t, c.Add(seq(2)))
		assert.True(t, c.Done())
		require.Len(t, c.Payloads(), 2)
		assert.Equal(t, byte(2), c.Payloads()[1][0])
	})
	t.Run("surplus", func(t *testing.T) {
		c := NewCollector(Request{Command: CommandTemperatures, Frames: 2, Sequenced: true})
		require.NoError(t, c.Add(seq(1)))
		assert.Equal(t, SurplusFrame{Command: CommandTemperatures, Seq: 3, Frames: 2}, c.Add(seq(3)))
		assert.Equal(t, SurplusFrame{Command: CommandTemperatures, Seq: 0, Frames: 2}, c.Add(seq(0)))
		assert.False(t, c.Done())
		require.NoError(t, c.Add(seq(2)))
		assert.True(t, c.Done())
		assert.Equal(t, 2, c.Len())
	})
	t.Run("plain", func(t *testing.T) {
		c := NewCollector(Request{Command: CommandTemperatures, Frames: 2})
		require.NoError(t, c.Add(seq(1)))
		require.NoError(t, c.Add(seq(1)))
		assert.True(t, c.Done())
	})
	t.Run("foreign", func(t *testing.T) {
		c := NewCollector(Request{Command: CommandSOC, Frames: 1})
		err := c.Add(seq(1))
		assert.Equal(t, UnexpectedCommand{Expect: CommandSOC, Actual: CommandTemperatures}, err)
		assert.Equal(t, 0, c.Len())
	})
	t.Run("payload-copy", func(t *testing.T) {
		c := NewCollector(Request{Command: CommandTemperatures, Frames: 1})
		f := seq(1)
		require.NoError(t, c.Add(f))
		f.Payload()[1] = 0
		assert.Equal(t, byte(60), c.Payloads()[0][1])
	})
}
