package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTask_ProgressReflectsCounters(t *testing.T) {
	tk := New("t1", []string{"https://example.com/f"}, "/tmp/f")
	tk.SetTotalSize(200)
	tk.AddDownloaded(50)
	require.Equal(t, 0.25, tk.Progress())
}

func TestTask_ProgressZeroWhenTotalUnknown(t *testing.T) {
	tk := New("t1", nil, "/tmp/f")
	tk.AddDownloaded(50)
	require.Equal(t, 0.0, tk.Progress())
}

func TestTask_WaitUnblocksOnCompletion(t *testing.T) {
	tk := New("t1", nil, "/tmp/f")
	go func() {
		time.Sleep(10 * time.Millisecond)
		tk.SetStatus(StatusCompleted)
	}()

	done := make(chan struct{})
	go func() {
		tk.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after completion")
	}
}

func TestTask_WaitForTimesOutWhileActive(t *testing.T) {
	tk := New("t1", nil, "/tmp/f")
	tk.SetStatus(StatusActive)
	require.False(t, tk.WaitFor(20*time.Millisecond))
}

func TestTask_FailRecordsErrorAndStatus(t *testing.T) {
	tk := New("t1", nil, "/tmp/f")
	tk.Fail(errors.New("network unreachable"))
	require.Equal(t, StatusFailed, tk.Status())
	require.EqualError(t, tk.Err(), "network unreachable")
}

func TestTask_DoubleCompletionClosesChannelOnce(t *testing.T) {
	tk := New("t1", nil, "/tmp/f")
	tk.SetStatus(StatusCompleted)
	require.NotPanics(t, func() { tk.SetStatus(StatusCompleted) })
}
