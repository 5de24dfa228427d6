package congestion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestController_SlowStartUsesMinWorkers(t *testing.T) {
	c := New(1, 8)
	require.Equal(t, 1, c.GetIdealConcurrency("example.com"))
}

func TestController_IncreasesAfterSuccesses(t *testing.T) {
	c := New(1, 8)
	c.RecordOutcome("example.com", 10*time.Millisecond, nil)
	require.Equal(t, 1, c.GetIdealConcurrency("example.com"))

	c.RecordOutcome("example.com", 10*time.Millisecond, nil)
	c.RecordOutcome("example.com", 10*time.Millisecond, nil)
	require.Equal(t, 2, c.GetIdealConcurrency("example.com"))
}

func TestController_HalvesOnError(t *testing.T) {
	c := New(1, 8)
	for i := 0; i < 10; i++ {
		c.RecordOutcome("example.com", 10*time.Millisecond, nil)
		c.GetIdealConcurrency("example.com")
	}
	before := c.HostStats("example.com").Concurrency
	require.Greater(t, before, 1)

	c.RecordOutcome("example.com", 10*time.Millisecond, errors.New("timeout"))
	after := c.GetIdealConcurrency("example.com")
	require.Equal(t, max(1, before/2), after)
}

func TestController_NeverExceedsMax(t *testing.T) {
	c := New(1, 2)
	for i := 0; i < 20; i++ {
		c.RecordOutcome("example.com", time.Millisecond, nil)
		c.GetIdealConcurrency("example.com")
	}
	require.LessOrEqual(t, c.HostStats("example.com").Concurrency, 2)
}
