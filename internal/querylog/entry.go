package querylog

import (
	"net/netip"
	"time"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsmsg"
)

// Entry is a single query log entry, written once per completed query.
type Entry struct {
	// Time is the time the request was received.
	Time time.Time

	// RemoteIP is the address of the client.  It is the zero value when
	// privacy mode is enabled.
	RemoteIP netip.Addr

	// DomainFQDN is the fully-qualified name of the requested resource.
	DomainFQDN string

	// BlockReason is the "list:rule" description of the rule that blocked the
	// query, if any.
	BlockReason string

	// Upstream is the address of the upstream that produced the response, if
	// the query went upstream.
	Upstream string

	// ID is the ID of the request.
	ID adns.RequestID

	// Elapsed is the time between receiving the request and completing the
	// response.
	Elapsed time.Duration

	// QType is the type of the resource record of the query.
	QType dnsmsg.RRType

	// ResponseCode is the response code sent to the client.
	ResponseCode dnsmsg.RCode

	// Blocked is true when the query was answered with the block action.
	Blocked bool

	// Cached is true when the response came from the answer cache, fresh or
	// stale.
	Cached bool
}
