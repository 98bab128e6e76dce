package leshan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the declared LwM2M type of a resource value.
type Kind string

// LwM2M resource kinds.
const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindBoolean Kind = "boolean"
	KindOpaque  Kind = "opaque"
	KindTime    Kind = "time"
	KindObjlnk  Kind = "objlnk"
)

var knownKinds = map[Kind]struct{}{
	KindString:  {},
	KindInteger: {},
	KindFloat:   {},
	KindBoolean: {},
	KindOpaque:  {},
	KindTime:    {},
	KindObjlnk:  {},
}

// ParseKind converts a wire type name into a Kind. Matching is
// case-insensitive because the server reports types in upper case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// ResourceValue is a single resource reading tagged with its kind.
//
// Value holds int64 for integer, float64 for float, bool for boolean and
// string for every other kind.
type ResourceValue struct {
	ID    int
	Kind  Kind
	Value any
}

// NewResourceValue builds a value from already-native data, coercing it the
// same way wire data is coerced.
func NewResourceValue(id int, kind Kind, value any) (ResourceValue, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ResourceValue{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return DecodeResourceValue(id, string(kind), raw)
}

// DecodeResourceValue converts wire resource data into a ResourceValue.
//
// The raw value may be a JSON string ("42", "true") or a JSON scalar
// (42, true); both are coerced to the native type for kind.
//
// Returns:
//   - ResourceValue: The decoded value
//   - error: ErrInvalidKind for an unknown kind, ErrInvalidValue when the
//     raw value does not fit the kind
func DecodeResourceValue(id int, kind string, raw json.RawMessage) (ResourceValue, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return ResourceValue{}, err
	}

	text, err := rawText(raw)
	if err != nil {
		return ResourceValue{}, fmt.Errorf("%w: resource %d: %v", ErrInvalidValue, id, err)
	}

	rv := ResourceValue{ID: id, Kind: k}
	switch k {
	case KindInteger:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return ResourceValue{}, fmt.Errorf("%w: resource %d: %q is not an integer", ErrInvalidValue, id, text)
		}
		rv.Value = n
	case KindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ResourceValue{}, fmt.Errorf("%w: resource %d: %q is not a float", ErrInvalidValue, id, text)
		}
		rv.Value = f
	case KindBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return ResourceValue{}, fmt.Errorf("%w: resource %d: %q is not a boolean", ErrInvalidValue, id, text)
		}
		rv.Value = b
	default:
		rv.Value = text
	}
	return rv, nil
}

// rawText returns the textual form of a JSON scalar. Strings are unquoted.
func rawText(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("missing value")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return "", fmt.Errorf("value is not a scalar")
	}
	return trimmed, nil
}

// wireResource is the JSON shape of a single resource on the wire.
type wireResource struct {
	ID    int             `json:"id"`
	Kind  string          `json:"kind,omitempty"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// decode converts a wire resource into a ResourceValue.
func (w wireResource) decode() (ResourceValue, error) {
	return DecodeResourceValue(w.ID, w.Type, w.Value)
}

// Encode returns the wire shape of the value for write payloads.
func (v ResourceValue) Encode() map[string]any {
	return map[string]any{
		"id":    v.ID,
		"kind":  "singleResource",
		"type":  string(v.Kind),
		"value": v.Value,
	}
}

// String formats the value for logs.
func (v ResourceValue) String() string {
	return fmt.Sprintf("%d=%v (%s)", v.ID, v.Value, v.Kind)
}

// EncodeInstance builds the body for writing several resources of one
// object instance.
func EncodeInstance(instanceID int, values []ResourceValue) map[string]any {
	resources := make([]map[string]any, 0, len(values))
	for _, v := range values {
		resources = append(resources, v.Encode())
	}
	return map[string]any{
		"id":        instanceID,
		"kind":      "instance",
		"resources": resources,
	}
}
