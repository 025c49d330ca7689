package adns

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/amberdns/amberdns/internal/dnsmsg"
)

// Common Context Helpers

// ctxKey is the type for all common context keys.
type ctxKey uint8

const (
	ctxKeyReqID ctxKey = iota
	ctxKeyReqInfo
)

// type check
var _ fmt.Stringer = ctxKey(0)

// String implements the [fmt.Stringer] interface for ctxKey.
func (k ctxKey) String() (s string) {
	switch k {
	case ctxKeyReqID:
		return "ctxKeyReqID"
	case ctxKeyReqInfo:
		return "ctxKeyReqInfo"
	default:
		panic(fmt.Errorf("bad ctx key value %d", k))
	}
}

// panicBadType is a helper that panics with a message about the context key
// and the expected type.
func panicBadType(key ctxKey, v any) {
	panic(fmt.Errorf("bad type for %s: %T(%[2]v)", key, v))
}

// WithRequestID returns a copy of the parent context with the request ID
// added.
func WithRequestID(parent context.Context, id RequestID) (ctx context.Context) {
	return context.WithValue(parent, ctxKeyReqID, id)
}

// RequestIDFromContext returns the request ID from the context, if any.
func RequestIDFromContext(ctx context.Context) (id RequestID, ok bool) {
	const key = ctxKeyReqID
	v := ctx.Value(key)
	if v == nil {
		return RequestID{}, false
	}

	id, ok = v.(RequestID)
	if !ok {
		panicBadType(key, v)
	}

	return id, true
}

// RequestInfo contains information about the current request.  A RequestInfo
// put into the context must not be modified.
type RequestInfo struct {
	// Start is the time serving of the request began.
	Start time.Time

	// Messages is the message constructor to be used for responses to this
	// request.
	Messages *dnsmsg.Constructor

	// RemoteIP is the address of the client.
	RemoteIP netip.Addr

	// Host is the lowercased, non-FQDN version of the hostname from the
	// question of the request.
	Host string

	// ServerName is the name of the listener which accepted the request.
	ServerName string

	// ID is the unique ID of the request.  It is resurfaced here to optimize
	// context lookups.
	ID RequestID

	// QType is the type of the question.
	QType uint16

	// QClass is the class of the question.
	QClass uint16

	// DO is true when the request's EDNS OPT record has the DNSSEC OK bit
	// set.
	DO bool
}

// ContextWithRequestInfo returns a copy of the parent context with the
// request information added.  ri must not be modified after calling
// ContextWithRequestInfo.
func ContextWithRequestInfo(parent context.Context, ri *RequestInfo) (ctx context.Context) {
	return context.WithValue(parent, ctxKeyReqInfo, ri)
}

// RequestInfoFromContext returns the request information from the context, if
// any.
func RequestInfoFromContext(ctx context.Context) (ri *RequestInfo, ok bool) {
	const key = ctxKeyReqInfo
	v := ctx.Value(key)
	if v == nil {
		return nil, false
	}

	ri, ok = v.(*RequestInfo)
	if !ok {
		panicBadType(key, v)
	}

	return ri, true
}

// MustRequestInfoFromContext returns the request information from the context
// and panics if there is none, since pipeline middlewares below the entry
// point cannot work without it.
func MustRequestInfoFromContext(ctx context.Context) (ri *RequestInfo) {
	ri, ok := RequestInfoFromContext(ctx)
	if !ok {
		panic(fmt.Errorf("no request info in context"))
	}

	return ri
}
