package adns

import (
	"time"
)

// AdlistID is the numeric ID of an adlist in the store.
type AdlistID int64

// Adlist is a subscription to a hosts-format or adblock-syntax blocklist
// feed.
type Adlist struct {
	// UpdatedAt is the time of the last successful refresh.
	UpdatedAt time.Time

	// Name is the human-readable list name.
	Name string

	// URL is the feed location.  http(s) URLs are fetched; file paths are
	// read locally.
	URL string

	// ID is the store ID of the list.
	ID AdlistID

	// EntryCount is the number of domains contributed by the list as of the
	// last refresh.
	EntryCount int

	// Enabled includes the list in the blocklist snapshot.
	Enabled bool
}

// FilterAction distinguishes allow rules from block rules.
type FilterAction uint8

// FilterAction values.
const (
	// FilterActionNone is the zero, invalid action.
	FilterActionNone FilterAction = iota

	// FilterActionAllow marks a rule that exempts matching names from
	// blocking.
	FilterActionAllow

	// FilterActionBlock marks a rule that blocks matching names.
	FilterActionBlock
)

// DomainRule is a user-managed allowlist or blocklist domain.  A rule matches
// its domain exactly and, as a parent suffix, every subdomain of it.
type DomainRule struct {
	// Domain is the rule domain in canonical lower-case form.
	Domain string

	// ID is the store ID of the rule.
	ID int64

	// Action tells whether a match allows or blocks.
	Action FilterAction

	// Enabled includes the rule in the policy snapshot.
	Enabled bool
}

// RegexFilter is a user-supplied regular expression rule.
type RegexFilter struct {
	// Pattern is the regular expression source.  It is compiled on snapshot
	// build; an invalid pattern disables the rule.
	Pattern string

	// ID is the store ID of the rule.
	ID int64

	// Action tells whether a match allows or blocks.
	Action FilterAction

	// Enabled includes the rule in the policy snapshot.
	Enabled bool
}
