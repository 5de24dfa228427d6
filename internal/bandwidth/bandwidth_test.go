package bandwidth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_DisabledIsFast(t *testing.T) {
	m := New()
	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), "t1", 10_000_000))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestManager_GlobalLimitThrottles(t *testing.T) {
	m := New()
	m.SetGlobalLimit(100) // 100 B/s, burst 100

	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), "t1", 100))
	require.NoError(t, m.Wait(context.Background(), "t1", 100))
	require.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestManager_PerTaskLimitIndependentOfOthers(t *testing.T) {
	m := New()
	m.SetTaskLimit("slow", 50)

	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), "fast", 1_000_000))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestManager_ContextCancelAborts(t *testing.T) {
	m := New()
	m.SetGlobalLimit(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Wait(ctx, "t1", 1_000_000)
	require.Error(t, err)
}
