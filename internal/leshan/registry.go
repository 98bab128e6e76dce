package leshan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrRegistryClosed is returned by Observe after Close.
var ErrRegistryClosed = errors.New("leshan: subscription registry closed")

// Callback receives notifications for one observed resource.
type Callback func(Device, ObjectInstance, ResourceValue)

// Subscription binds a callback to one resource of one device.
type Subscription struct {
	Device     Device
	Instance   ObjectInstance
	ResourceID int

	callback Callback
}

func (s *Subscription) matches(endpoint string, oi ObjectInstance, resourceID int) bool {
	return s.Device.Endpoint == endpoint && s.Instance == oi && s.ResourceID == resourceID
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Requester sends observe activation and deactivation requests.
	Requester Requester

	// Streamer opens the per-endpoint event streams.
	Streamer Streamer

	// Backoff is passed to every StreamListener.
	Backoff time.Duration

	// Logger receives registry and stream diagnostics.
	Logger Logger

	// OnStateChange reports stream state transitions per endpoint.
	OnStateChange func(endpoint string, state StreamState)

	// after replaces time.After in tests.
	after func(time.Duration) <-chan time.Time
}

// Registry tracks resource observations and owns one StreamListener per
// observed endpoint.
//
// The set of running listeners always equals the set of endpoints that
// have at least one subscription: the first Observe on an endpoint starts
// its listener and the Cancel that removes its last subscription stops it.
//
// Registering the same (device, instance, resource) twice is additive:
// both callbacks fire for every notification.
//
// Thread Safety: All methods are safe for concurrent use. Callbacks run on
// the endpoint's listener goroutine, one at a time, and may call Observe or
// Cancel.
type Registry struct {
	opts   RegistryOptions
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	subs      []*Subscription
	listeners map[string]*StreamListener
	closed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:      opts,
		logger:    loggerOrNoop(opts.Logger),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]*StreamListener),
	}
}

// Observe subscribes cb to one resource.
//
// The endpoint's event stream is started if this is its first
// subscription. The server-side observe request is sent afterwards; if it
// fails the failure is logged and the subscription stays registered, so
// notifications are still delivered if the server sends them.
//
// Parameters:
//   - ctx: Bounds the activation request only
//   - dev: Device to observe
//   - oi: Object instance holding the resource
//   - resourceID: Resource to observe
//   - cb: Called for every matching notification
//
// Returns:
//   - error: ErrRegistryClosed after Close, or an error for a nil callback
func (r *Registry) Observe(ctx context.Context, dev Device, oi ObjectInstance, resourceID int, cb Callback) error {
	if cb == nil {
		return fmt.Errorf("leshan: observe %s%s: nil callback", dev.Endpoint, oi.ResourcePath(resourceID))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.listeners[dev.Endpoint]; !ok {
		l := r.newListener(dev.Endpoint)
		r.listeners[dev.Endpoint] = l
		l.Start(r.ctx)
		r.logger.Debug("started event stream", "endpoint", dev.Endpoint)
	}
	r.subs = append(r.subs, &Subscription{
		Device:     dev,
		Instance:   oi,
		ResourceID: resourceID,
		callback:   cb,
	})
	r.mu.Unlock()

	path := resourcePath(dev.Endpoint, oi, resourceID) + "/observe"
	if _, err := r.opts.Requester.Request(ctx, http.MethodPost, path, nil); err != nil {
		r.logger.Warn("observe activation failed",
			"endpoint", dev.Endpoint,
			"resource", oi.ResourcePath(resourceID),
			"error", err,
		)
	}
	return nil
}

// Cancel removes the first subscription matching (dev, oi, resourceID).
//
// The server-side deactivation request is always sent for a matched
// subscription, even when a duplicate remains; its failure is logged and
// the subscription is removed anyway. When no subscription is left for the
// endpoint its event stream is stopped. Cancelling an unknown subscription
// does nothing.
//
// Returns:
//   - bool: True if a subscription was removed
func (r *Registry) Cancel(ctx context.Context, dev Device, oi ObjectInstance, resourceID int) bool {
	r.mu.Lock()
	n := r.countLocked(dev.Endpoint, oi, resourceID)
	r.mu.Unlock()
	if n == 0 {
		return false
	}

	path := resourcePath(dev.Endpoint, oi, resourceID) + "/observe?active"
	if _, err := r.opts.Requester.Request(ctx, http.MethodDelete, path, nil); err != nil {
		r.logger.Warn("observe deactivation failed",
			"endpoint", dev.Endpoint,
			"resource", oi.ResourcePath(resourceID),
			"error", err,
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for i, s := range r.subs {
		if s.matches(dev.Endpoint, oi, resourceID) {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			removed = true
			break
		}
	}

	if !r.endpointObservedLocked(dev.Endpoint) {
		if l, ok := r.listeners[dev.Endpoint]; ok {
			delete(r.listeners, dev.Endpoint)
			l.Stop()
			r.logger.Debug("stopped event stream", "endpoint", dev.Endpoint)
		}
	}
	return removed
}

// Dispatch delivers a value to every subscription matching the exact
// (endpoint, instance, resource) tuple, in registration order.
// It returns the number of callbacks invoked.
func (r *Registry) Dispatch(endpoint string, oi ObjectInstance, resourceID int, value ResourceValue) int {
	return r.dispatchFrom(nil, endpoint, oi, resourceID, value)
}

// dispatchFrom is Dispatch for a notification read by listener from. A
// listener that is no longer the endpoint's current one delivers nothing,
// so a stream still draining after Cancel cannot duplicate the events of
// its replacement. A nil from skips the check.
func (r *Registry) dispatchFrom(from *StreamListener, endpoint string, oi ObjectInstance, resourceID int, value ResourceValue) int {
	r.mu.Lock()
	if from != nil && r.listeners[endpoint] != from {
		r.mu.Unlock()
		r.logger.Debug("dropped notification from stopped stream",
			"endpoint", endpoint,
			"resource", oi.ResourcePath(resourceID),
		)
		return 0
	}
	var matched []*Subscription
	for _, s := range r.subs {
		if s.matches(endpoint, oi, resourceID) {
			matched = append(matched, s)
		}
	}
	r.mu.Unlock()

	for _, s := range matched {
		r.invoke(s, value)
	}
	return len(matched)
}

// invoke runs one callback, containing any panic.
func (r *Registry) invoke(s *Subscription, value ResourceValue) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("observe callback panicked",
				"endpoint", s.Device.Endpoint,
				"resource", s.Instance.ResourcePath(s.ResourceID),
				"panic", rec,
			)
		}
	}()
	s.callback(s.Device, s.Instance, value)
}

// wireNotification is the payload of a NOTIFICATION event.
type wireNotification struct {
	Endpoint string       `json:"ep"`
	Resource string       `json:"res"`
	Value    wireResource `json:"val"`
}

// handleNotification decodes a NOTIFICATION event read by from and
// dispatches it.
func (r *Registry) handleNotification(from *StreamListener, ev Event) error {
	var n wireNotification
	if err := json.Unmarshal([]byte(ev.Data), &n); err != nil {
		return fmt.Errorf("decoding notification: %w", err)
	}
	oi, resourceID, err := ParseResourcePath(n.Resource)
	if err != nil {
		return err
	}
	value, err := n.Value.decode()
	if err != nil {
		return err
	}
	r.dispatchFrom(from, n.Endpoint, oi, resourceID, value)
	return nil
}

func (r *Registry) newListener(endpoint string) *StreamListener {
	var onState func(StreamState)
	if r.opts.OnStateChange != nil {
		onState = func(s StreamState) { r.opts.OnStateChange(endpoint, s) }
	}
	var l *StreamListener
	l = NewStreamListener(StreamOptions{
		Name:          endpoint,
		Path:          eventPath + "?ep=" + url.QueryEscape(endpoint),
		EventType:     EventNotification,
		Handler:       func(ev Event) error { return r.handleNotification(l, ev) },
		Streamer:      r.opts.Streamer,
		Backoff:       r.opts.Backoff,
		Logger:        r.logger,
		OnStateChange: onState,
		after:         r.opts.after,
	})
	return l
}

func (r *Registry) countLocked(endpoint string, oi ObjectInstance, resourceID int) int {
	n := 0
	for _, s := range r.subs {
		if s.matches(endpoint, oi, resourceID) {
			n++
		}
	}
	return n
}

func (r *Registry) endpointObservedLocked(endpoint string) bool {
	for _, s := range r.subs {
		if s.Device.Endpoint == endpoint {
			return true
		}
	}
	return false
}

// ListenerCount returns the number of running event streams.
func (r *Registry) ListenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Listening reports whether an event stream is running for endpoint.
func (r *Registry) Listening(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listeners[endpoint]
	return ok
}

// ListenerState returns the state of the endpoint's event stream.
func (r *Registry) ListenerState(endpoint string) (StreamState, bool) {
	r.mu.Lock()
	l, ok := r.listeners[endpoint]
	r.mu.Unlock()
	if !ok {
		return StateStopped, false
	}
	return l.State(), true
}

// Subscriptions returns a copy of the current subscriptions in
// registration order.
func (r *Registry) Subscriptions() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, len(r.subs))
	for i, s := range r.subs {
		out[i] = *s
	}
	return out
}

// Close stops every event stream, waits for them to exit and drops all
// subscriptions. No deactivation requests are sent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	listeners := r.listeners
	r.listeners = make(map[string]*StreamListener)
	r.subs = nil
	r.mu.Unlock()

	r.cancel()
	for _, l := range listeners {
		l.Stop()
		l.Wait()
	}
}
