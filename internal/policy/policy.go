// Package policy decides, for every question, whether AmberDNS answers it
// normally or with the block action.  The decision folds together the
// per-client and per-group rules, the global allowlist and blocklist, and the
// regular-expression rules, with a fixed precedence.  The compiled state is an
// immutable snapshot replaced whole on refresh.
package policy

import (
	"context"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/filter"
)

// Store is the part of the configuration store the policy engine reads on
// refresh.
type Store interface {
	// Settings returns the current dynamic settings.
	Settings(ctx context.Context) (s *adns.Settings, err error)

	// Clients returns all per-client configurations.
	Clients(ctx context.Context) (clients []*adns.ClientConf, err error)

	// Groups returns all client groups with their members and rules.
	Groups(ctx context.Context) (groups []*adns.ClientGroup, err error)

	// RegexFilters returns all regular-expression rules, including disabled
	// ones.
	RegexFilters(ctx context.Context) (filters []*adns.RegexFilter, err error)
}

// GlobalFilter is the global allowlist and blocklist consulted by the engine.
// It is implemented by [*filter.Storage].
type GlobalFilter interface {
	// MatchAllowlist returns the matched global allowlist rule for host, if
	// any.
	MatchAllowlist(host string) (rule filter.RuleText, ok bool)

	// MatchBlocklist checks host against the manual blocklist, the adlists,
	// and the adblock rule lists.  A nil result means no match; a
	// [*filter.ResultAllowed] means an exception rule exempted host from this
	// source.
	MatchBlocklist(ctx context.Context, host string, qt dnsmsg.RRType) (r filter.Result)
}
