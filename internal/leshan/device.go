package leshan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ObjectInstance addresses one instance of an LwM2M object.
type ObjectInstance struct {
	ObjectID   int `json:"objectId"`
	InstanceID int `json:"instanceId"`
}

// String returns the LwM2M path of the instance, e.g. "/3311/0".
func (oi ObjectInstance) String() string {
	return fmt.Sprintf("/%d/%d", oi.ObjectID, oi.InstanceID)
}

// ResourcePath returns the LwM2M path of a resource in the instance.
func (oi ObjectInstance) ResourcePath(resourceID int) string {
	return fmt.Sprintf("/%d/%d/%d", oi.ObjectID, oi.InstanceID, resourceID)
}

// ParseResourcePath splits "/object/instance/resource" into its parts.
func ParseResourcePath(path string) (ObjectInstance, int, error) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 3 {
		return ObjectInstance{}, 0, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	ids := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ObjectInstance{}, 0, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		ids[i] = n
	}
	return ObjectInstance{ObjectID: ids[0], InstanceID: ids[1]}, ids[2], nil
}

// Device is an LwM2M client (endpoint) registered with the server.
//
// Two Device values describe the same device when their endpoints match,
// whatever their other fields say. Use Equal rather than ==.
type Device struct {
	Endpoint         string           `json:"endpoint"`
	RegistrationID   string           `json:"registrationId"`
	RegistrationDate time.Time        `json:"registrationDate"`
	LastUpdate       time.Time        `json:"lastUpdate"`
	Address          string           `json:"address"`
	Version          string           `json:"lwM2mVersion"`
	Lifetime         int64            `json:"lifetime"`
	BindingMode      string           `json:"bindingMode"`
	RootPath         string           `json:"rootPath"`
	Secure           bool             `json:"secure"`
	ObjectInstances  []ObjectInstance `json:"objectInstances"`
}

// Equal reports whether d and other identify the same endpoint.
func (d Device) Equal(other Device) bool {
	return d.Endpoint == other.Endpoint
}

// HasInstance reports whether the device exposes the given instance.
func (d Device) HasInstance(oi ObjectInstance) bool {
	for _, have := range d.ObjectInstances {
		if have == oi {
			return true
		}
	}
	return false
}

// InstancesOf returns the device's instances of one object, in instance
// order.
func (d Device) InstancesOf(objectID int) []ObjectInstance {
	var out []ObjectInstance
	for _, oi := range d.ObjectInstances {
		if oi.ObjectID == objectID {
			out = append(out, oi)
		}
	}
	return out
}

// wireDevice mirrors the server's registration JSON.
type wireDevice struct {
	Endpoint           string           `json:"endpoint"`
	RegistrationID     string           `json:"registrationId"`
	RegistrationDate   json.RawMessage  `json:"registrationDate"`
	LastUpdate         json.RawMessage  `json:"lastUpdate"`
	Address            string           `json:"address"`
	Version            string           `json:"lwM2mVersion"`
	Lifetime           int64            `json:"lifetime"`
	BindingMode        string           `json:"bindingMode"`
	RootPath           string           `json:"rootPath"`
	Secure             bool             `json:"secure"`
	AvailableInstances map[string][]int `json:"availableInstances"`
}

// DecodeDevice builds a Device from a registration payload.
// The availableInstances map is flattened into ObjectInstance pairs
// sorted by object then instance.
func DecodeDevice(data []byte) (Device, error) {
	var w wireDevice
	if err := json.Unmarshal(data, &w); err != nil {
		return Device{}, fmt.Errorf("decoding device: %w", err)
	}
	return w.toDevice()
}

func (w wireDevice) toDevice() (Device, error) {
	if w.Endpoint == "" {
		return Device{}, fmt.Errorf("decoding device: missing endpoint")
	}

	registered, err := parseTimestamp(w.RegistrationDate)
	if err != nil {
		return Device{}, fmt.Errorf("decoding device %s: registrationDate: %w", w.Endpoint, err)
	}
	updated, err := parseTimestamp(w.LastUpdate)
	if err != nil {
		return Device{}, fmt.Errorf("decoding device %s: lastUpdate: %w", w.Endpoint, err)
	}

	instances := make([]ObjectInstance, 0, len(w.AvailableInstances))
	for objID, ids := range w.AvailableInstances {
		obj, err := strconv.Atoi(objID)
		if err != nil || obj < 0 {
			return Device{}, fmt.Errorf("decoding device %s: invalid object id %q", w.Endpoint, objID)
		}
		for _, inst := range ids {
			if inst < 0 {
				return Device{}, fmt.Errorf("decoding device %s: invalid instance id %d", w.Endpoint, inst)
			}
			instances = append(instances, ObjectInstance{ObjectID: obj, InstanceID: inst})
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].ObjectID != instances[j].ObjectID {
			return instances[i].ObjectID < instances[j].ObjectID
		}
		return instances[i].InstanceID < instances[j].InstanceID
	})

	return Device{
		Endpoint:         w.Endpoint,
		RegistrationID:   w.RegistrationID,
		RegistrationDate: registered,
		LastUpdate:       updated,
		Address:          w.Address,
		Version:          w.Version,
		Lifetime:         w.Lifetime,
		BindingMode:      w.BindingMode,
		RootPath:         w.RootPath,
		Secure:           w.Secure,
		ObjectInstances:  instances,
	}, nil
}

// parseTimestamp accepts epoch milliseconds or an RFC 3339 string.
// A missing value yields the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if s[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, err
		}
		if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Parse(time.RFC3339Nano, text)
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp %s", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
