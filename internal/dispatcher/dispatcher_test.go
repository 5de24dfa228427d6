package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_SyncDeliversToAllListeners(t *testing.T) {
	d := New(0)
	var got1, got2 Event
	d.AddListener(ListenerFunc(func(e Event) { got1 = e }))
	d.AddListener(ListenerFunc(func(e Event) { got2 = e }))

	d.Dispatch(Event{Kind: Progress, TaskID: "t1"})
	require.Equal(t, Progress, got1.Kind)
	require.Equal(t, Progress, got2.Kind)
}

func TestDispatcher_RemoveListenerStopsDelivery(t *testing.T) {
	d := New(0)
	var n int
	l := ListenerFunc(func(e Event) { n++ })
	d.AddListener(l)
	d.RemoveListener(l)

	d.Dispatch(Event{Kind: Completed})
	require.Equal(t, 0, n)
}

func TestDispatcher_AsyncDeliversEventually(t *testing.T) {
	d := New(2)
	defer d.Close()

	var mu sync.Mutex
	var received []Event
	d.AddListener(ListenerFunc(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}))

	for i := 0; i < 10; i++ {
		d.DispatchAsync(Event{Kind: Progress, TaskID: "t1"})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 10
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_AsyncWithoutWorkersDropsNothing(t *testing.T) {
	d := New(0) // no workers, so more events than queueCapacity are sent
	for i := 0; i < queueCapacity+5; i++ {
		d.DispatchAsync(Event{Kind: Progress})
	}
	// workers == 0 means DispatchAsync delivers synchronously instead of
	// queuing, so nothing should be dropped in this configuration.
	require.Equal(t, int64(0), d.DroppedCount())
}
