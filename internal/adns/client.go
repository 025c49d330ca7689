package adns

import (
	"net/netip"
	"time"
)

// GroupID is the numeric ID of a client group in the store.
type GroupID int64

// ClientGroup is a named set of clients sharing filtering rules.
type ClientGroup struct {
	// Name is the human-readable group name.
	Name string

	// Members are the source addresses of the clients in the group.
	Members []netip.Addr

	// Allow and Block are the per-group domain rules.
	Allow []string
	Block []string

	// ID is the store ID of the group.
	ID GroupID

	// BlockingEnabled is false when blocking is switched off for the whole
	// group.
	BlockingEnabled bool
}

// ClientConf is the per-client configuration attached to a source address.
type ClientConf struct {
	// BlockingPausedUntil is the time until which block verdicts for this
	// client are flipped to allow.  The zero value means no pause timer.
	BlockingPausedUntil time.Time

	// Addr is the source address identifying the client.
	Addr netip.Addr

	// Name is the optional human-readable client name.
	Name string

	// Allow and Block are the per-client domain rules.
	Allow []string
	Block []string

	// Upstreams optionally overrides the default upstream list for this
	// client.
	Upstreams []string

	// BlockingEnabled is false when blocking is switched off for this client.
	BlockingEnabled bool
}
