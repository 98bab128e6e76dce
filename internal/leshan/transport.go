package leshan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Transport defaults.
const (
	// DefaultTimeout bounds each request and each stream handshake.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is buffered.
	// Full client listings from large deployments stay well below this.
	maxResponseSize = 16 << 20
)

var (
	errHandshakeTimeout = errors.New("stream handshake timed out")
	errStreamIdle       = errors.New("stream idle timeout")
)

// Response is a successful (status < 400) server response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the server typed the body as JSON.
func (r *Response) IsJSON() bool {
	if r == nil {
		return false
	}
	return isJSONContentType(r.ContentType)
}

// Empty reports whether the response carries no usable payload.
// A literal JSON null counts as empty.
func (r *Response) Empty() bool {
	if r == nil {
		return true
	}
	trimmed := bytes.TrimSpace(r.Body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals the JSON body into v.
// Returns ErrEmptyResponse when there is nothing to decode.
func (r *Response) Decode(v any) error {
	if r.Empty() {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Transport executes requests against a Leshan server.
//
// The underlying http.Client is created on first use and reused for every
// later call. Close releases it; a later request creates a new one.
//
// Thread Safety: All methods are safe for concurrent use.
type Transport struct {
	baseURL     string
	timeout     time.Duration
	idleTimeout time.Duration

	mu      sync.Mutex
	client  *http.Client
	factory func() *http.Client
}

// TransportOptions configures a Transport.
type TransportOptions struct {
	// BaseURL is the server root, e.g. "http://leshan:8080".
	BaseURL string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// StreamIdleTimeout aborts an event stream that delivers no bytes for
	// this long. Zero disables the check.
	StreamIdleTimeout time.Duration

	// HTTPClient, when set, builds the client used for requests.
	// Defaults to a plain http.Client without an overall timeout.
	HTTPClient func() *http.Client
}

// NewTransport creates a Transport. No connection is made until the first
// request.
func NewTransport(opts TransportOptions) *Transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	factory := opts.HTTPClient
	if factory == nil {
		factory = func() *http.Client { return &http.Client{} }
	}
	return &Transport{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     timeout,
		idleTimeout: opts.StreamIdleTimeout,
		factory:     factory,
	}
}

// Timeout returns the per-request timeout.
func (t *Transport) Timeout() time.Duration {
	return t.timeout
}

// httpClient returns the shared client, creating it if needed.
func (t *Transport) httpClient() *http.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		t.client = t.factory()
	}
	return t.client
}

// Close releases the underlying client's idle connections.
// Calling Close more than once is a no-op.
func (t *Transport) Close() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil {
		client.CloseIdleConnections()
	}
}

// Request sends a request and returns the buffered response.
//
// Parameters:
//   - ctx: Parent context; the request also gets its own timeout
//   - method: HTTP method
//   - path: Path relative to the server root, including any query
//   - body: Value marshalled as the JSON request body, or nil
//
// Returns:
//   - *Response: The response, possibly with an empty body
//   - error: ErrConnectionTimeout, ErrConnection or *ServerError
func (t *Transport) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyError(err)
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < 600 {
		return nil, newServerError(resp.StatusCode, out.ContentType, data)
	}
	return out, nil
}

// Stream opens a server-sent event stream at path.
//
// Only the handshake (up to response headers) is bounded by the transport
// timeout. The returned body stays open until the caller closes it, ctx is
// cancelled, or the idle timeout fires. Read errors from the body are
// classified the same way as request errors.
func (t *Transport) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	handshake := time.AfterFunc(t.timeout, func() { cancel(errHandshakeTimeout) })

	req, err := t.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		handshake.Stop()
		cancel(nil)
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient().Do(req)
	if !handshake.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		cancel(nil)
		return nil, fmt.Errorf("%w: %w", ErrConnectionTimeout, errHandshakeTimeout)
	}
	if err != nil {
		cancel(nil)
		return nil, classifyError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck // best-effort error body
		resp.Body.Close()
		cancel(nil)
		return nil, newServerError(resp.StatusCode, resp.Header.Get("Content-Type"), data)
	}

	s := &eventStream{body: resp.Body, ctx: ctx, cancel: cancel, idleTimeout: t.idleTimeout}
	if t.idleTimeout > 0 {
		s.idle = time.AfterFunc(t.idleTimeout, func() { cancel(errStreamIdle) })
	}
	return s, nil
}

// newRequest builds a request with an optional JSON body.
func (t *Transport) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// eventStream wraps a streaming response body, resetting the idle timer on
// every read and translating cancellation causes into typed errors.
type eventStream struct {
	body        io.ReadCloser
	ctx         context.Context
	cancel      context.CancelCauseFunc
	idle        *time.Timer
	idleTimeout time.Duration
}

func (s *eventStream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if n > 0 && s.idle != nil {
		s.idle.Reset(s.idleTimeout)
	}
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	if errors.Is(context.Cause(s.ctx), errStreamIdle) {
		return n, fmt.Errorf("%w: %w", ErrConnectionTimeout, errStreamIdle)
	}
	return n, classifyError(err)
}

func (s *eventStream) Close() error {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.cancel(nil)
	return s.body.Close()
}

// classifyError maps a transport failure onto the error taxonomy.
func classifyError(err error) error {
	if errors.Is(err, ErrConnection) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// newServerError builds a ServerError, decoding the body when it is JSON.
func newServerError(status int, contentType string, data []byte) *ServerError {
	se := &ServerError{StatusCode: status, Body: string(data)}
	if isJSONContentType(contentType) {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err == nil {
			se.Body = decoded
		}
	}
	return se
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
