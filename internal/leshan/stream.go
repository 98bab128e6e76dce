package leshan

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	sse "github.com/tmaxmax/go-sse"
)

// DefaultBackoff is the wait before reconnecting after a non-timeout
// stream failure.
const DefaultBackoff = 5 * time.Second

// Server event types.
const (
	EventNotification = "NOTIFICATION"
	EventRegistration = "REGISTRATION"
)

var errStreamClosed = errors.New("leshan: event stream closed by server")

// StreamState is the connection state of a StreamListener.
type StreamState int

// Stream listener states.
const (
	StateConnecting StreamState = iota
	StateStreaming
	StateBackoff
	StateStopped
)

// String returns the state name.
func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateBackoff:
		return "BACKOFF"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Streamer opens long-lived event streams. *Transport implements it.
type Streamer interface {
	Stream(ctx context.Context, path string) (io.ReadCloser, error)
}

// Event is one server-sent event.
type Event struct {
	Type string
	Data string
}

// StreamOptions configures a StreamListener.
type StreamOptions struct {
	// Name identifies the stream in logs (the endpoint, or "registrations").
	Name string

	// Path is the event feed path, including any query.
	Path string

	// EventType is the only event type passed to Handler. Matching is
	// case-insensitive.
	EventType string

	// Handler processes each matching event. Errors are logged and the
	// stream continues.
	Handler func(Event) error

	// Streamer opens the stream.
	Streamer Streamer

	// Backoff is the wait after a non-timeout failure. Zero means
	// DefaultBackoff.
	Backoff time.Duration

	// Logger receives stream diagnostics. Nil disables logging.
	Logger Logger

	// OnStateChange is called on every state transition, from the
	// listener's goroutine.
	OnStateChange func(StreamState)

	// after replaces time.After in tests.
	after func(time.Duration) <-chan time.Time
}

// StreamListener consumes one server-sent event stream and reconnects
// until stopped.
//
// A timeout (handshake or idle) reconnects immediately. Any other failure,
// including the server closing the stream, is logged and followed by a
// fixed backoff. There is no retry limit.
//
// Thread Safety: Stop and State are safe for concurrent use. Run must be
// called at most once.
type StreamListener struct {
	opts   StreamOptions
	logger Logger
	after  func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	state   StreamState
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStreamListener creates a listener. Nothing connects until Run or
// Start is called.
func NewStreamListener(opts StreamOptions) *StreamListener {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	after := opts.after
	if after == nil {
		after = time.After
	}
	return &StreamListener{
		opts:   opts,
		logger: loggerOrNoop(opts.Logger),
		after:  after,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// Start runs the listener in a new goroutine.
func (l *StreamListener) Start(ctx context.Context) {
	go l.Run(ctx)
}

// Run consumes the stream until ctx is cancelled or Stop is called.
func (l *StreamListener) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer close(l.done)
	defer l.setState(StateStopped)
	defer cancel()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.cancel = cancel
	l.mu.Unlock()

	for {
		if l.isStopped() || ctx.Err() != nil {
			return
		}

		l.setState(StateConnecting)
		err := l.consume(ctx)

		if l.isStopped() || ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrConnectionTimeout) {
			l.logger.Debug("event stream timed out, reconnecting", "stream", l.opts.Name)
			continue
		}

		l.logger.Error("event stream failed",
			"stream", l.opts.Name,
			"error", err,
			"retry_in", l.opts.Backoff,
		)
		l.setState(StateBackoff)
		select {
		case <-ctx.Done():
			return
		case <-l.after(l.opts.Backoff):
		}
	}
}

// consume opens the stream and handles events until it fails.
func (l *StreamListener) consume(ctx context.Context) error {
	body, err := l.opts.Streamer.Stream(ctx, l.opts.Path)
	if err != nil {
		return err
	}
	defer body.Close()

	l.setState(StateStreaming)
	l.logger.Debug("event stream connected", "stream", l.opts.Name)

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return err
		}
		if l.isStopped() {
			return nil
		}
		if !strings.EqualFold(ev.Type, l.opts.EventType) {
			l.logger.Debug("ignoring event", "stream", l.opts.Name, "type", ev.Type)
			continue
		}
		if err := l.opts.Handler(Event{Type: ev.Type, Data: ev.Data}); err != nil {
			l.logger.Warn("dropping malformed event",
				"stream", l.opts.Name,
				"type", ev.Type,
				"error", err,
			)
		}
	}
	return errStreamClosed
}

// Stop sets the stop flag and cancels the in-flight stream. It does not
// wait for the goroutine to exit, so it is safe to call from a Handler.
// Use Wait for that.
func (l *StreamListener) Stop() {
	l.mu.Lock()
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until Run has returned.
func (l *StreamListener) Wait() {
	<-l.done
}

// Done is closed when Run returns.
func (l *StreamListener) Done() <-chan struct{} {
	return l.done
}

// State returns the current state.
func (l *StreamListener) State() StreamState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *StreamListener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *StreamListener) setState(s StreamState) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()

	if changed && l.opts.OnStateChange != nil {
		l.opts.OnStateChange(s)
	}
}
