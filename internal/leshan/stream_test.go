package leshan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func TestStreamState_String(t *testing.T) {
	tests := map[StreamState]string{
		StateConnecting: "CONNECTING",
		StateStreaming:  "STREAMING",
		StateBackoff:    "BACKOFF",
		StateStopped:    "STOPPED",
		StreamState(99): "UNKNOWN",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}

// eventCollector is a Handler that records event data.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
	got    chan Event
}

func newEventCollector() *eventCollector {
	return &eventCollector{got: make(chan Event, 16)}
}

func (c *eventCollector) handle(ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- ev
	return nil
}

func TestStreamListener_FiltersEventType(t *testing.T) {
	streamer := newFakeStreamer(streamStep{
		body: "event: REGISTRATION\ndata: {}\n\n" +
			"event: notification\ndata: {\"n\":1}\n\n" +
			"data: unnamed\n\n" +
			"event: NOTIFICATION\ndata: {\"n\":2}\n\n",
	})
	collector := newEventCollector()

	l := NewStreamListener(StreamOptions{
		Name:      "ep",
		Path:      "/api/event?ep=ep",
		EventType: EventNotification,
		Handler:   collector.handle,
		Streamer:  streamer,
	})
	l.Start(context.Background())
	defer func() { l.Stop(); l.Wait() }()

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case ev := <-collector.got:
			assert.Equal(t, want, ev.Data)
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	assert.Equal(t, StateStreaming, l.State())
}

func TestStreamListener_TimeoutReconnectsWithoutBackoff(t *testing.T) {
	streamer := newFakeStreamer(
		streamStep{err: fmt.Errorf("%w: simulated", ErrConnectionTimeout)},
		streamStep{err: fmt.Errorf("%w: simulated", ErrConnectionTimeout)},
		streamStep{body: "event: NOTIFICATION\ndata: ok\n\n"},
	)
	waits := newRecordingAfter()
	collector := newEventCollector()

	l := NewStreamListener(StreamOptions{
		Name:      "ep",
		EventType: EventNotification,
		Handler:   collector.handle,
		Streamer:  streamer,
		after:     waits.after,
	})
	l.Start(context.Background())
	defer func() { l.Stop(); l.Wait() }()

	select {
	case ev := <-collector.got:
		assert.Equal(t, "ok", ev.Data)
	case <-time.After(waitFor):
		t.Fatal("no event after reconnect")
	}
	assert.Equal(t, 3, streamer.calls())
	assert.Equal(t, 0, waits.count())
}

func TestStreamListener_ErrorAppliesBackoff(t *testing.T) {
	streamer := newFakeStreamer(
		streamStep{err: fmt.Errorf("%w: refused", ErrConnection)},
		streamStep{body: "event: NOTIFICATION\ndata: back\n\n"},
	)
	waits := newRecordingAfter()
	collector := newEventCollector()

	var mu sync.Mutex
	var states []StreamState
	l := NewStreamListener(StreamOptions{
		Name:      "ep",
		EventType: EventNotification,
		Handler:   collector.handle,
		Streamer:  streamer,
		Backoff:   5 * time.Second,
		after:     waits.after,
		OnStateChange: func(s StreamState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	l.Start(context.Background())
	defer func() { l.Stop(); l.Wait() }()

	require.Eventually(t, func() bool { return l.State() == StateBackoff }, waitFor, time.Millisecond)
	assert.Equal(t, 1, streamer.calls())
	assert.Equal(t, 1, waits.count())

	waits.mu.Lock()
	assert.Equal(t, 5*time.Second, waits.waits[0])
	waits.mu.Unlock()

	close(waits.release)

	select {
	case ev := <-collector.got:
		assert.Equal(t, "back", ev.Data)
	case <-time.After(waitFor):
		t.Fatal("no event after backoff")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []StreamState{StateBackoff, StateConnecting, StateStreaming}, states)
}

func TestStreamListener_ServerCloseBacksOff(t *testing.T) {
	streamer := newFakeStreamer(streamStep{body: "event: NOTIFICATION\ndata: once\n\n", eof: true})
	waits := newRecordingAfter()
	collector := newEventCollector()

	l := NewStreamListener(StreamOptions{
		EventType: EventNotification,
		Handler:   collector.handle,
		Streamer:  streamer,
		after:     waits.after,
	})
	l.Start(context.Background())
	defer func() { l.Stop(); l.Wait() }()

	<-collector.got
	require.Eventually(t, func() bool { return waits.count() == 1 }, waitFor, time.Millisecond)
}

func TestStreamListener_HandlerErrorKeepsStreaming(t *testing.T) {
	streamer := newFakeStreamer(streamStep{
		body: "event: NOTIFICATION\ndata: bad\n\nevent: NOTIFICATION\ndata: good\n\n",
	})
	got := make(chan string, 4)

	l := NewStreamListener(StreamOptions{
		EventType: EventNotification,
		Handler: func(ev Event) error {
			if ev.Data == "bad" {
				return errors.New("malformed")
			}
			got <- ev.Data
			return nil
		},
		Streamer: streamer,
	})
	l.Start(context.Background())
	defer func() { l.Stop(); l.Wait() }()

	select {
	case data := <-got:
		assert.Equal(t, "good", data)
	case <-time.After(waitFor):
		t.Fatal("stream stopped after a handler error")
	}
	assert.Equal(t, 1, streamer.calls())
}

func TestStreamListener_Stop(t *testing.T) {
	streamer := newFakeStreamer()
	l := NewStreamListener(StreamOptions{
		EventType: EventNotification,
		Handler:   func(Event) error { return nil },
		Streamer:  streamer,
	})
	l.Start(context.Background())

	<-streamer.opened
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(waitFor):
		t.Fatal("listener did not stop")
	}
	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, 1, streamer.calls())
}

func TestStreamListener_StopBeforeRun(t *testing.T) {
	streamer := newFakeStreamer()
	l := NewStreamListener(StreamOptions{Streamer: streamer, Handler: func(Event) error { return nil }})
	l.Stop()
	l.Run(context.Background())

	assert.Equal(t, 0, streamer.calls())
	assert.Equal(t, StateStopped, l.State())
}

func TestStreamListener_ContextCancel(t *testing.T) {
	streamer := newFakeStreamer()
	l := NewStreamListener(StreamOptions{Streamer: streamer, Handler: func(Event) error { return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	<-streamer.opened
	cancel()

	select {
	case <-l.Done():
	case <-time.After(waitFor):
		t.Fatal("listener ignored context cancellation")
	}
}
