package leshan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// Server API paths.
const (
	clientsPath = "/api/clients"
	eventPath   = "/api/event"
)

// Requester executes buffered requests. *Transport implements it.
type Requester interface {
	Request(ctx context.Context, method, path string, body any) (*Response, error)
}

// Directory is the set of devices known to the server, keyed by endpoint.
//
// Refresh merges the server listing into the set: devices already present
// are kept as first seen, new endpoints are appended. The set only grows;
// devices that deregister stay listed until the process restarts.
//
// Thread Safety: All methods are safe for concurrent use.
type Directory struct {
	requester Requester

	mu      sync.RWMutex
	devices []Device
	index   map[string]int
}

// NewDirectory creates an empty directory backed by requester.
func NewDirectory(requester Requester) *Directory {
	return &Directory{
		requester: requester,
		index:     make(map[string]int),
	}
}

// Refresh fetches the full client listing and merges it into the set.
//
// Returns:
//   - []Device: Every known device, not only the newly seen ones
//   - error: Transport errors, ErrEmptyResponse, or a decode error
func (d *Directory) Refresh(ctx context.Context) ([]Device, error) {
	resp, err := d.requester.Request(ctx, http.MethodGet, clientsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}

	var entries []json.RawMessage
	if err := resp.Decode(&entries); err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}

	listed := make([]Device, 0, len(entries))
	for _, raw := range entries {
		dev, err := DecodeDevice(raw)
		if err != nil {
			return nil, fmt.Errorf("listing clients: %w", err)
		}
		listed = append(listed, dev)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range listed {
		d.mergeLocked(dev)
	}
	return d.copyLocked(), nil
}

// Merge adds a device if its endpoint is not known yet.
// Returns true when the device was added.
func (d *Directory) Merge(dev Device) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mergeLocked(dev)
}

func (d *Directory) mergeLocked(dev Device) bool {
	if _, ok := d.index[dev.Endpoint]; ok {
		return false
	}
	d.index[dev.Endpoint] = len(d.devices)
	d.devices = append(d.devices, dev)
	return true
}

// Devices returns a copy of the known devices in discovery order.
func (d *Directory) Devices() []Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.copyLocked()
}

// Lookup returns the device registered under endpoint.
func (d *Directory) Lookup(endpoint string) (Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[endpoint]
	if !ok {
		return Device{}, false
	}
	return d.devices[i], true
}

// Len returns the number of known devices.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}

func (d *Directory) copyLocked() []Device {
	out := make([]Device, len(d.devices))
	copy(out, d.devices)
	return out
}

// clientPath builds /api/clients/{endpoint}/{object}/{instance}.
func clientPath(endpoint string, oi ObjectInstance) string {
	return fmt.Sprintf("%s/%s/%d/%d", clientsPath, url.PathEscape(endpoint), oi.ObjectID, oi.InstanceID)
}

// resourcePath builds /api/clients/{endpoint}/{object}/{instance}/{resource}.
func resourcePath(endpoint string, oi ObjectInstance, resourceID int) string {
	return fmt.Sprintf("%s/%d", clientPath(endpoint, oi), resourceID)
}
