// Package querylog defines the AmberDNS query log entry and provides the
// sinks the pipeline writes completed queries into: a JSON-lines file, the
// configuration store, and an in-process broadcaster for live viewers.
package querylog

import (
	"context"

	"github.com/AdguardTeam/golibs/errors"
)

// Interface is the query log interface.  All methods must be safe for
// concurrent use.
type Interface interface {
	// Write writes the entry into the query log.  e must not be nil and must
	// not be modified after the call.
	Write(ctx context.Context, e *Entry) (err error)
}

// Empty is a query log that does nothing and returns nil values.
type Empty struct{}

// type check
var _ Interface = Empty{}

// Write implements the [Interface] interface for Empty.  It does nothing and
// returns nil.
func (Empty) Write(_ context.Context, _ *Entry) (err error) {
	return nil
}

// Multi is a query log that writes each entry into every one of its
// underlying logs.
type Multi struct {
	logs []Interface
}

// NewMulti returns a query log writing into each of logs in order.
func NewMulti(logs ...Interface) (m *Multi) {
	return &Multi{
		logs: logs,
	}
}

// type check
var _ Interface = (*Multi)(nil)

// Write implements the [Interface] interface for *Multi.  Every underlying
// log sees the entry even if an earlier one fails; the errors are joined.
func (m *Multi) Write(ctx context.Context, e *Entry) (err error) {
	var errs []error
	for _, l := range m.logs {
		errs = append(errs, l.Write(ctx, e))
	}

	return errors.Join(errs...)
}
