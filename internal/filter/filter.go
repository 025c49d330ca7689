// Package filter contains the blocklist sources of AmberDNS: the user-managed
// allowlist and blocklist, subscribed adlist feeds, and adblock-syntax rule
// lists.  The compiled sets are immutable snapshots replaced whole on refresh,
// so matching never blocks on a reload.
package filter

import (
	"context"
	"strconv"
	"time"

	"github.com/amberdns/amberdns/internal/adns"
)

// ID is the ID of a filter list.  It is an opaque string.
type ID string

// Special ID values.
const (
	// IDNone means that no filter was applied at all.
	IDNone ID = ""

	// IDAllowlist is the ID of the user-managed allowlist.
	IDAllowlist ID = "allowlist"

	// IDBlocklist is the ID of the user-managed manual blocklist.
	IDBlocklist ID = "blocklist"

	// IDClient is the ID of the per-client rule lists of the policy engine.
	IDClient ID = "client"
)

// AdlistFilterID returns the filter ID for the adlist with the given store ID.
func AdlistFilterID(id adns.AdlistID) (fltID ID) {
	return ID("adlist_" + strconv.FormatInt(int64(id), 10))
}

// GroupFilterID returns the filter ID for the rule lists of the client group
// with the given store ID.
func GroupFilterID(id adns.GroupID) (fltID ID) {
	return ID("group_" + strconv.FormatInt(int64(id), 10))
}

// RegexFilterID returns the filter ID for the regular-expression rule with the
// given store ID.
func RegexFilterID(id int64) (fltID ID) {
	return ID("regex_" + strconv.FormatInt(id, 10))
}

// RuleText is the text of a single rule within a filter list.
type RuleText string

// Store is the subset of the configuration store used by the filter storage.
type Store interface {
	// Adlists returns all adlist subscriptions, including disabled ones.
	Adlists(ctx context.Context) (lists []*adns.Adlist, err error)

	// DomainRules returns all manual allowlist and blocklist rules.
	DomainRules(ctx context.Context) (rules []*adns.DomainRule, err error)

	// SetAdlistStatus records the result of a successful adlist refresh.
	SetAdlistStatus(
		ctx context.Context,
		id adns.AdlistID,
		updatedAt time.Time,
		entryCount int,
	) (err error)
}
