package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := &Exponential{Base: time.Second, Cap: 10 * time.Minute}

	assert.Equal(t, time.Duration(0), e.Delay(0))
	assert.Equal(t, 1*time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 4*time.Second, e.Delay(3))
	assert.Equal(t, 512*time.Second, e.Delay(10))

	// Attempt 11 would be 1024s; the cap holds it at 600s, and it stays
	// there for every later attempt.
	assert.Equal(t, 10*time.Minute, e.Delay(11))
	assert.Equal(t, 10*time.Minute, e.Delay(50))
}

func TestExponential_JitterStaysBounded(t *testing.T) {
	e := &Exponential{Base: time.Second, Cap: 10 * time.Minute, JitterFactor: 0.1}

	for i := 0; i < 100; i++ {
		d := e.Delay(3) // nominal 4s
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestExponential_SleepHonorsCancellation(t *testing.T) {
	e := &Exponential{Base: time.Hour, Cap: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := e.Sleep(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "Sleep ignored cancellation")
}
