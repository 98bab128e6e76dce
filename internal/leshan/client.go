package leshan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// AllResources reads every resource of an instance when passed to Read.
const AllResources = -1

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the Leshan server root, e.g. "http://leshan:8080".
	BaseURL string

	// Timeout bounds each request and each stream handshake.
	Timeout time.Duration

	// StreamIdleTimeout reconnects event streams that stay silent this
	// long. Zero disables the check.
	StreamIdleTimeout time.Duration

	// Backoff is the wait after a non-timeout stream failure.
	Backoff time.Duration

	// Logger receives client diagnostics.
	Logger Logger

	// OnStreamStateChange reports per-endpoint stream transitions.
	OnStreamStateChange func(endpoint string, state StreamState)

	// HTTPClient builds the underlying http.Client.
	HTTPClient func() *http.Client
}

// Client is the entry point for reading, writing and observing devices on
// a Leshan server.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	transport     *Transport
	directory     *Directory
	registry      *Registry
	registrations *RegistrationListener
	logger        Logger
	closeOnce     sync.Once
}

// NewClient creates a client. No request is made until a method needs one.
func NewClient(opts ClientOptions) *Client {
	logger := loggerOrNoop(opts.Logger)
	transport := NewTransport(TransportOptions{
		BaseURL:           opts.BaseURL,
		Timeout:           opts.Timeout,
		StreamIdleTimeout: opts.StreamIdleTimeout,
		HTTPClient:        opts.HTTPClient,
	})
	return &Client{
		transport: transport,
		directory: NewDirectory(transport),
		registry: NewRegistry(RegistryOptions{
			Requester:     transport,
			Streamer:      transport,
			Backoff:       opts.Backoff,
			Logger:        logger,
			OnStateChange: opts.OnStreamStateChange,
		}),
		registrations: NewRegistrationListener(transport, opts.Backoff, logger),
		logger:        logger,
	}
}

// wireReadResponse is the envelope of a read or write response.
type wireReadResponse struct {
	Status       string `json:"status"`
	Failure      bool   `json:"failure"`
	ErrorMessage string `json:"errormessage"`
	Content      struct {
		wireResource
		Resources []wireResource `json:"resources"`
	} `json:"content"`
}

func (w *wireReadResponse) failed() error {
	if !w.Failure {
		return nil
	}
	if w.ErrorMessage != "" {
		return fmt.Errorf("%w: %s: %s", ErrRequestFailed, w.Status, w.ErrorMessage)
	}
	return fmt.Errorf("%w: %s", ErrRequestFailed, w.Status)
}

// Read reads one resource, or every resource of the instance when
// resourceID is AllResources.
//
// Returns:
//   - []ResourceValue: The decoded values
//   - error: Transport errors, ErrEmptyResponse, ErrRequestFailed, or a
//     codec error
func (c *Client) Read(ctx context.Context, dev Device, oi ObjectInstance, resourceID int) ([]ResourceValue, error) {
	path := clientPath(dev.Endpoint, oi)
	if resourceID != AllResources {
		path = resourcePath(dev.Endpoint, oi, resourceID)
	}

	resp, err := c.transport.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s%s: %w", dev.Endpoint, oi, err)
	}

	var body wireReadResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("reading %s%s: %w", dev.Endpoint, oi, err)
	}
	if err := body.failed(); err != nil {
		return nil, fmt.Errorf("reading %s%s: %w", dev.Endpoint, oi, err)
	}

	raw := body.Content.Resources
	if resourceID != AllResources {
		if body.Content.Type == "" {
			return nil, fmt.Errorf("reading %s%s: %w", dev.Endpoint, oi, ErrEmptyResponse)
		}
		raw = []wireResource{body.Content.wireResource}
	}

	values := make([]ResourceValue, 0, len(raw))
	for _, r := range raw {
		v, err := r.decode()
		if err != nil {
			return nil, fmt.Errorf("reading %s%s: %w", dev.Endpoint, oi, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Write replaces resources of one object instance.
func (c *Client) Write(ctx context.Context, dev Device, oi ObjectInstance, values []ResourceValue) error {
	path := clientPath(dev.Endpoint, oi)
	resp, err := c.transport.Request(ctx, http.MethodPut, path, EncodeInstance(oi.InstanceID, values))
	if err != nil {
		return fmt.Errorf("writing %s%s: %w", dev.Endpoint, oi, err)
	}
	if resp.Empty() {
		return fmt.Errorf("writing %s%s: %w", dev.Endpoint, oi, ErrEmptyResponse)
	}
	if resp.IsJSON() {
		var body wireReadResponse
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			if err := body.failed(); err != nil {
				return fmt.Errorf("writing %s%s: %w", dev.Endpoint, oi, err)
			}
		}
	}
	return nil
}

// Observe subscribes cb to a resource. See Registry.Observe.
func (c *Client) Observe(ctx context.Context, dev Device, oi ObjectInstance, resourceID int, cb Callback) error {
	return c.registry.Observe(ctx, dev, oi, resourceID, cb)
}

// Cancel removes a subscription. See Registry.Cancel.
func (c *Client) Cancel(ctx context.Context, dev Device, oi ObjectInstance, resourceID int) bool {
	return c.registry.Cancel(ctx, dev, oi, resourceID)
}

// Devices returns the devices seen so far without contacting the server.
func (c *Client) Devices() []Device {
	return c.directory.Devices()
}

// RefreshDevices fetches the client listing and returns every known device.
func (c *Client) RefreshDevices(ctx context.Context) ([]Device, error) {
	return c.directory.Refresh(ctx)
}

// Directory returns the client's device directory.
func (c *Client) Directory() *Directory {
	return c.directory
}

// Registry returns the client's subscription registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// ListenRegistrations blocks, reporting registrations to cb, until ctx is
// cancelled.
func (c *Client) ListenRegistrations(ctx context.Context, cb func(Device)) {
	c.registrations.Run(ctx, cb)
}

// TestServer checks that the server answers the client listing.
func (c *Client) TestServer(ctx context.Context) error {
	resp, err := c.transport.Request(ctx, http.MethodGet, clientsPath, nil)
	if err != nil {
		return err
	}
	if resp.Empty() {
		return ErrEmptyResponse
	}
	return nil
}

// Close stops all event streams and releases the HTTP client.
// Calling Close more than once is a no-op.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.registry.Close()
		c.transport.Close()
		c.logger.Debug("leshan client closed")
	})
}
