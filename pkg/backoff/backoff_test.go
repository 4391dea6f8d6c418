package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLadder_Duration(t *testing.T) {
	l := DefaultLadder()

	assert.Equal(t, 1*time.Second, l.Duration(0))
	assert.Equal(t, 2*time.Second, l.Duration(1))
	assert.Equal(t, 4*time.Second, l.Duration(2))
	assert.Equal(t, 8*time.Second, l.Duration(3))
	assert.Equal(t, 16*time.Second, l.Duration(4))
	assert.Equal(t, 16*time.Second, l.Duration(5), "capped at Max")
}

func TestBackoff_NextAndReset(t *testing.T) {
	b := New(DefaultLadder())

	assert.Equal(t, 1*time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 3, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 1*time.Second, b.Next())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow(), "still closed below threshold")

	cb.RecordFailure()
	assert.True(t, cb.Open())
	assert.False(t, cb.Allow(), "open circuit should deny immediately")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.Allow(), "allow after cooldown elapses")

	cb.RecordSuccess()
	assert.False(t, cb.Open())
}
