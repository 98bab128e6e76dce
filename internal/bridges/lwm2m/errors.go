package lwm2m

import "errors"

// Domain errors for the LwM2M bridge package.
var (
	// ErrMissingDependency is returned by NewBridge when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("lwm2m: missing dependency")

	// ErrInvalidRules is returned when a rules file cannot be used.
	ErrInvalidRules = errors.New("lwm2m: invalid rules")

	// ErrInvalidCommand is returned when a command payload cannot be
	// turned into a resource value.
	ErrInvalidCommand = errors.New("lwm2m: invalid command")

	// ErrNotWritable is returned when a command targets an object the
	// rules do not mark writable.
	ErrNotWritable = errors.New("lwm2m: resource not writable")

	// ErrUnknownDevice is returned when a command targets an endpoint or
	// instance the directory does not know.
	ErrUnknownDevice = errors.New("lwm2m: unknown device")
)
