package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrInvalidCommand is returned for a command payload that cannot be
	// parsed or names an unknown action.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrInvalidParameters is returned when a command's address or payload
	// is unusable.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")

	// ErrMissingDependency is returned by New when a required collaborator
	// is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")
)
