package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reading struct {
	kind  string
	value int
}

func byKind(r reading) string { return r.kind }

func receiveN[T any](t *testing.T, ch <-chan T, n int) []T {
	t.Helper()
	received := make([]T, 0, n)
	for len(received) < n {
		select {
		case v := <-ch:
			received = append(received, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for events, got %d of %d", len(received), n)
		}
	}
	return received
}

func assertNothingPending[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Errorf("Unexpected value received: %v", v)
	default:
	}
}

func TestNewChannelEvent(t *testing.T) {
	event := NewChannelEvent[string](nil)
	require.NotNil(t, event)
	assert.Equal(t, 0, event.ListenerCount())
	assert.Nil(t, event.replayKey)
}

func TestChannelEvent_Listen_Notify_Basic(t *testing.T) {
	event := NewChannelEvent[string](nil)

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("test1")
	event.Notify("test2")
	assert.Equal(t, []string{"test1", "test2"}, receiveN(t, ch, 2))

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("test3")
	assertNothingPending(t, ch)
}

func TestChannelEvent_MultipleListeners(t *testing.T) {
	event := NewChannelEvent[int](nil)

	ch1 := make(chan int, 10)
	ch2 := make(chan int, 10)
	unregister1 := event.Listen(ch1)
	unregister2 := event.Listen(ch2)
	assert.Equal(t, 2, event.ListenerCount())

	event.Notify(42)
	event.Notify(100)

	assert.Equal(t, []int{42, 100}, receiveN(t, ch1, 2))
	assert.Equal(t, []int{42, 100}, receiveN(t, ch2, 2))

	unregister1()
	unregister2()
	assert.Equal(t, 0, event.ListenerCount())
}

func TestChannelEvent_NoReplayWithoutKey(t *testing.T) {
	event := NewChannelEvent[string](nil)
	event.Notify("first-event")

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	defer unregister()
	assertNothingPending(t, ch)

	event.Notify("second-event")
	assert.Equal(t, []string{"second-event"}, receiveN(t, ch, 1))
}

func TestChannelEvent_ReplayNothingBeforeNotify(t *testing.T) {
	event := NewChannelEvent[reading](byKind)

	ch := make(chan reading, 10)
	unregister := event.Listen(ch)
	defer unregister()
	assertNothingPending(t, ch)
}

func TestChannelEvent_ReplaysLatestPerKey(t *testing.T) {
	event := NewChannelEvent[reading](byKind)

	event.Notify(reading{"power", 180})
	event.Notify(reading{"heart_rate", 120})
	event.Notify(reading{"power", 210})

	ch := make(chan reading, 10)
	unregister := event.Listen(ch)
	defer unregister()

	// first-seen key order, latest value per key
	assert.Equal(t, []reading{{"power", 210}, {"heart_rate", 120}}, receiveN(t, ch, 2))
	assertNothingPending(t, ch)

	event.Notify(reading{"cadence", 90})
	assert.Equal(t, []reading{{"cadence", 90}}, receiveN(t, ch, 1))
}

func TestChannelEvent_Listen_NilChannel(t *testing.T) {
	event := NewChannelEvent[string](nil)
	assert.Panics(t, func() {
		event.Listen(nil)
	})
}

func TestChannelEvent_FullChannel(t *testing.T) {
	event := NewChannelEvent[string](nil)
	var dropped atomic.Int32
	event.OnDrop(func() { dropped.Add(1) })

	ch := make(chan string, 1)
	unregister := event.Listen(ch)
	defer unregister()

	ch <- "blocking"

	// skipped since the channel is full
	event.Notify("test1")
	event.Notify("test2")
	assert.Equal(t, 1, len(ch))
	assert.Equal(t, int32(2), dropped.Load())

	<-ch

	event.Notify("test3")
	assert.Equal(t, []string{"test3"}, receiveN(t, ch, 1))
	assert.Equal(t, int32(2), dropped.Load())
}

func TestChannelEvent_ReplayToFullChannelCountsDrops(t *testing.T) {
	event := NewChannelEvent[reading](byKind)
	var dropped atomic.Int32
	event.OnDrop(func() { dropped.Add(1) })

	event.Notify(reading{"power", 1})
	event.Notify(reading{"speed", 2})

	ch := make(chan reading, 1)
	unregister := event.Listen(ch)
	defer unregister()

	assert.Equal(t, []reading{{"power", 1}}, receiveN(t, ch, 1))
	assert.Equal(t, int32(1), dropped.Load())
}

func TestChannelEvent_ConcurrentAccess(t *testing.T) {
	event := NewChannelEvent[int](nil)

	var wg sync.WaitGroup
	channels := make([]chan int, 10)
	unregisters := make([]func(), 10)

	for i := 0; i < 10; i++ {
		ch := make(chan int, 100)
		channels[i] = ch
		unregisters[i] = event.Listen(ch)
	}
	assert.Equal(t, 10, event.ListenerCount())

	wg.Add(5)
	for i := 0; i < 5; i++ {
		go func(value int) {
			defer wg.Done()
			event.Notify(value)
		}(i)
	}
	wg.Wait()

	for _, ch := range channels {
		assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, receiveN(t, ch, 5))
	}

	for _, unregister := range unregisters {
		unregister()
	}
}
