package dnssvc

import (
	"context"
	"fmt"
)

// ctxKey is the type for context keys within this package.
type ctxKey uint8

const (
	ctxKeyQueryState ctxKey = iota
)

// type check
var _ fmt.Stringer = ctxKey(0)

// String implements the [fmt.Stringer] interface for ctxKey.
func (k ctxKey) String() (s string) {
	switch k {
	case ctxKeyQueryState:
		return "ctxKeyQueryState"
	default:
		panic(fmt.Errorf("bad ctx key value %d", k))
	}
}

// queryState accumulates the per-query facts the logging middleware needs
// from the layers below it.  A pointer is put into the context by the query
// log middleware and filled in as the query travels down the chain, so the
// fields must only be written before the response is written.
type queryState struct {
	// blockReason is the "list:rule" description of the blocking rule, if
	// any.
	blockReason string

	// upstream is the address of the upstream that produced the response, if
	// the query went upstream.
	upstream string

	// blocked is true when the query was answered with the block action.
	blocked bool

	// cached is true when the response came from the answer cache.
	cached bool
}

// contextWithQueryState returns a copy of the parent context with the query
// state added.
func contextWithQueryState(parent context.Context, qs *queryState) (ctx context.Context) {
	return context.WithValue(parent, ctxKeyQueryState, qs)
}

// queryStateFromContext returns the query state from the context, if any.
func queryStateFromContext(ctx context.Context) (qs *queryState, ok bool) {
	const key = ctxKeyQueryState
	v := ctx.Value(key)
	if v == nil {
		return nil, false
	}

	qs, ok = v.(*queryState)
	if !ok {
		panic(fmt.Errorf("bad type for %s: %T(%[2]v)", key, v))
	}

	return qs, true
}
