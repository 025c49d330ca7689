package policy

import (
	"net/netip"
	"regexp"
	"time"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/amberdns/amberdns/internal/filter"
)

// snapshot is the compiled policy state the verdict path reads.  It is
// immutable once built.  The decision cache lives inside the snapshot, so a
// swap drops every cached decision at once and a late write through an old
// snapshot lands in a cache nobody reads anymore.
type snapshot struct {
	settings   *adns.Settings
	clients    map[netip.Addr]*clientPolicy
	decisions  adnscache.Interface[decisionKey, Verdict]
	regexAllow []*regexRule
	regexBlock []*regexRule
}

// decisionKey is the key of the decision cache.  The question type is not a
// part of the key: a decision depends only on the client and the name, the
// type merely selects which rule text a host-rule match reports.
type decisionKey struct {
	addr netip.Addr
	host string
}

// clientPolicy is the compiled policy state for one client address.
type clientPolicy struct {
	pausedUntil time.Time
	allow       *filter.DomainSet
	block       *filter.DomainSet
	groups      []*groupPolicy
	enabled     bool
}

// groupPolicy is the compiled policy state for one client group.
type groupPolicy struct {
	allow   *filter.DomainSet
	block   *filter.DomainSet
	id      filter.ID
	enabled bool
}

// regexRule is one compiled regular-expression rule.
type regexRule struct {
	re *regexp.Regexp
	id filter.ID
}

// matchRegexes returns the first rule in rules matching host, or nil.
func matchRegexes(rules []*regexRule, host string) (rr *regexRule) {
	for _, r := range rules {
		if r.re.MatchString(host) {
			return r
		}
	}

	return nil
}

// compileGroups compiles the client groups and indexes them by member
// address.
func compileGroups(groups []*adns.ClientGroup) (byMember map[netip.Addr][]*groupPolicy) {
	byMember = map[netip.Addr][]*groupPolicy{}
	for _, g := range groups {
		gp := &groupPolicy{
			allow:   filter.NewDomainSet(g.Allow),
			block:   filter.NewDomainSet(g.Block),
			id:      filter.GroupFilterID(g.ID),
			enabled: g.BlockingEnabled,
		}

		for _, m := range g.Members {
			byMember[m] = append(byMember[m], gp)
		}
	}

	return byMember
}

// compileClients compiles the per-client policies and attaches the group
// policies to their members.
func compileClients(
	clients []*adns.ClientConf,
	byMember map[netip.Addr][]*groupPolicy,
) (m map[netip.Addr]*clientPolicy) {
	m = make(map[netip.Addr]*clientPolicy, len(clients))
	for _, c := range clients {
		m[c.Addr] = &clientPolicy{
			pausedUntil: c.BlockingPausedUntil,
			allow:       filter.NewDomainSet(c.Allow),
			block:       filter.NewDomainSet(c.Block),
			groups:      byMember[c.Addr],
			enabled:     c.BlockingEnabled,
		}
	}

	// Group members without an explicit client configuration still carry
	// their groups' rules.
	for addr, gps := range byMember {
		if _, ok := m[addr]; ok {
			continue
		}

		m[addr] = &clientPolicy{
			allow:   filter.NewDomainSet(nil),
			block:   filter.NewDomainSet(nil),
			groups:  gps,
			enabled: true,
		}
	}

	return m
}

// blockingActive returns false when block verdicts for the client must be
// flipped to allow at the given time.
func (s *snapshot) blockingActive(cli netip.Addr, now time.Time) (ok bool) {
	sett := s.settings
	if !sett.BlockingEnabled || pauseActive(sett.BlockingPausedUntil, now) {
		return false
	}

	cp := s.clients[cli]
	if cp == nil {
		return true
	}

	if !cp.enabled || pauseActive(cp.pausedUntil, now) {
		return false
	}

	for _, g := range cp.groups {
		if !g.enabled {
			return false
		}
	}

	return true
}

// pauseActive returns true if a pause timer with the given deadline is active
// at now.  The zero deadline means no timer.
func pauseActive(until, now time.Time) (ok bool) {
	return !until.IsZero() && now.Before(until)
}
