// Package tsig authenticates zone transfers and dynamic updates with TSIG
// shared secrets, see RFC 8945.
//
// Keys live in the configuration store and are reloaded on refresh.  Inbound
// messages carrying a TSIG RR are verified against the exact received wire
// form; a successful verification yields the key and the request MAC, which
// must be chained into the signature of the response.
package tsig

import (
	"context"
	"fmt"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/miekg/dns"
)

// DefaultFudge is the allowed clock skew of signed messages, in seconds.
const DefaultFudge = 300

// Store is the source of TSIG keys.
type Store interface {
	// TSIGKeys returns all TSIG keys, including disabled ones.
	TSIGKeys(ctx context.Context) (keys []*adns.TSIGKey, err error)
}

// Error is a TSIG verification failure.  Code is one of [dns.RcodeBadSig],
// [dns.RcodeBadKey], and [dns.RcodeBadTime].
type Error struct {
	// KeyName is the name of the key from the request's TSIG RR.
	KeyName string

	// Code is the extended TSIG error code to put into the response.
	Code uint16
}

// type check
var _ error = (*Error)(nil)

// Error implements the error interface for *Error.
func (e *Error) Error() (msg string) {
	var reason string
	switch e.Code {
	case dns.RcodeBadSig:
		reason = "bad signature"
	case dns.RcodeBadKey:
		reason = "bad key"
	case dns.RcodeBadTime:
		reason = "bad time"
	default:
		reason = "verification failure"
	}

	return fmt.Sprintf("tsig: key %q: %s", e.KeyName, reason)
}
