package adns

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// Common Errors

// ErrNotFound is returned by lookup methods when an entity does not exist.
const ErrNotFound errors.Error = "not found"

// NotFoundError is returned by lookup methods when an entity of a particular
// kind does not exist.  It unwraps to [ErrNotFound].
type NotFoundError struct {
	// Kind is the kind of the entity, e.g. "zone" or "tsig key".
	Kind string

	// Key is the key by which the entity was searched.
	Key string
}

// Error implements the error interface for *NotFoundError.
func (err *NotFoundError) Error() (msg string) {
	return fmt.Sprintf("%s %q: %s", err.Kind, err.Key, ErrNotFound)
}

// Unwrap implements the [errors.Wrapper] interface for *NotFoundError.
func (err *NotFoundError) Unwrap() (unwrapped error) { return ErrNotFound }
