package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 10 * time.Second, Max: 30 * time.Second, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())

	b.Update(false)
	d := b.DelayBefore()
	assert.True(t, d > 9*time.Second && d <= 10*time.Second, "d=%v", d)
	b.Update(false)
	d = b.DelayBefore()
	assert.True(t, d > 19*time.Second && d <= 20*time.Second, "d=%v", d)
	b.Update(false)
	b.Update(false)
	d = b.DelayBefore()
	assert.True(t, d > 29*time.Second && d <= 30*time.Second, "d=%v", d)
	assert.Equal(t, 4, b.Failures())

	b.Update(true)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	assert.Equal(t, 0, b.Failures())
}

func TestBackoffElapsed(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 5 * time.Millisecond}
	b.Update(false)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}
