package lwm2m

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// IPSO objects covered by DefaultRules.
const (
	ObjectLightControl = 3311
	ObjectOnOffSwitch  = 3342

	ResourceOnOff        = 5850
	ResourceDimmer       = 5851
	ResourceDigitalState = 5500
)

// ObjectRule says what the bridge does with every instance of one object.
type ObjectRule struct {
	// ObjectID is the LwM2M object id the rule applies to.
	ObjectID int `yaml:"object"`

	// Name is a label used in logs and discovery messages.
	Name string `yaml:"name,omitempty"`

	// Observe lists resources subscribed to through the registry.
	Observe []int `yaml:"observe,omitempty"`

	// Poll lists resources published from poll snapshots. Any entry puts
	// the instance on the poll list.
	Poll []int `yaml:"poll,omitempty"`

	// Writable allows MQTT commands to write resources of this object.
	Writable bool `yaml:"writable,omitempty"`
}

// Polls reports whether resourceID is published from poll snapshots.
func (r ObjectRule) Polls(resourceID int) bool {
	return slices.Contains(r.Poll, resourceID)
}

// Rules is the parsed rules file.
type Rules struct {
	Objects []ObjectRule `yaml:"objects"`
}

// DefaultRules covers the IPSO light control and on/off switch objects.
func DefaultRules() Rules {
	return Rules{Objects: []ObjectRule{
		{
			ObjectID: ObjectLightControl,
			Name:     "light_control",
			Observe:  []int{ResourceOnOff, ResourceDimmer},
			Writable: true,
		},
		{
			ObjectID: ObjectOnOffSwitch,
			Name:     "on_off_switch",
			Observe:  []int{ResourceDigitalState},
		},
	}}
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates rules from YAML.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate checks ids and rejects duplicate or empty rules.
func (r Rules) Validate() error {
	seen := make(map[int]bool, len(r.Objects))
	for i, o := range r.Objects {
		if o.ObjectID < 0 {
			return fmt.Errorf("%w: objects[%d]: negative object id %d", ErrInvalidRules, i, o.ObjectID)
		}
		if seen[o.ObjectID] {
			return fmt.Errorf("%w: object %d listed twice", ErrInvalidRules, o.ObjectID)
		}
		seen[o.ObjectID] = true

		if len(o.Observe) == 0 && len(o.Poll) == 0 && !o.Writable {
			return fmt.Errorf("%w: object %d has nothing to observe, poll or write", ErrInvalidRules, o.ObjectID)
		}
		for _, id := range slices.Concat(o.Observe, o.Poll) {
			if id < 0 {
				return fmt.Errorf("%w: object %d: negative resource id %d", ErrInvalidRules, o.ObjectID, id)
			}
		}
	}
	return nil
}

// Lookup returns the rule for an object id.
func (r Rules) Lookup(objectID int) (ObjectRule, bool) {
	for _, o := range r.Objects {
		if o.ObjectID == objectID {
			return o, true
		}
	}
	return ObjectRule{}, false
}
