package filter

import (
	"fmt"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
	"github.com/AdguardTeam/urlfilter/rules"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/miekg/dns"
)

// ruleList wraps an urlfilter DNS engine compiled from the adblock-syntax
// rules of a single list.
type ruleList struct {
	// engine is the DNS filtering engine.
	//
	// NOTE:  Do not save the [filterlist.Interface] used to create the engine
	// to close it, because the engine is built from an in-memory byte list,
	// which doesn't require closing.
	engine *urlfilter.DNSEngine

	// id is the filter list ID.
	id ID
}

// newRuleList compiles rulesData into a rule list for the list with the given
// ID.
func newRuleList(id ID, rulesData []byte) (rl *ruleList) {
	lists := []filterlist.Interface{
		filterlist.NewBytes(&filterlist.BytesConfig{
			RulesText:      rulesData,
			IgnoreCosmetic: true,
		}),
	}

	s, err := filterlist.NewRuleStorage(lists)
	if err != nil {
		// Should never happen, since there is only one filter list, and the
		// only error currently returned from [filterlist.NewRuleStorage] is
		// about duplicated IDs.
		panic(fmt.Errorf("filter: compiling storage for rule list %q: %w", id, err))
	}

	return &ruleList{
		engine: urlfilter.NewDNSEngine(s),
		id:     id,
	}
}

// rulesCount returns the number of rules in the engine.
func (rl *ruleList) rulesCount() (n int) {
	return rl.engine.RulesCount
}

// match applies the engine and sets the values in res if any have matched.
// ok is true if there is a match.  req and res must not be nil.
func (rl *ruleList) match(req *urlfilter.DNSRequest, res *urlfilter.DNSResult) (ok bool) {
	ok = rl.engine.MatchRequestInto(req, res)

	return ok || len(res.NetworkRules) > 0
}

// resultCollector collects the rules matched by the rule-list engines of a
// snapshot.  It contains per-pointer indexes of the IDs of the lists
// producing network and host rules.
type resultCollector struct {
	netRuleIDs  map[*rules.NetworkRule]ID
	hostRuleIDs map[*rules.HostRule]ID

	networkRules []*rules.NetworkRule
	hostRules4   []*rules.HostRule
	hostRules6   []*rules.HostRule
}

// newResultCollector returns a properly initialized *resultCollector.
func newResultCollector() (c *resultCollector) {
	return &resultCollector{
		netRuleIDs:  map[*rules.NetworkRule]ID{},
		hostRuleIDs: map[*rules.HostRule]ID{},
	}
}

// add appends the rules from dr to the slices within c.  dr must not be nil.
func (c *resultCollector) add(id ID, dr *urlfilter.DNSResult) {
	for _, nr := range dr.NetworkRules {
		c.networkRules = append(c.networkRules, nr)
		c.netRuleIDs[nr] = id
	}

	for _, hr4 := range dr.HostRulesV4 {
		c.hostRules4 = append(c.hostRules4, hr4)
		c.hostRuleIDs[hr4] = id
	}

	for _, hr6 := range dr.HostRulesV6 {
		c.hostRules6 = append(c.hostRules6, hr6)
		c.hostRuleIDs[hr6] = id
	}
}

// netRuleToResult converts an urlfilter network rule into a filtering result.
func (c *resultCollector) netRuleToResult(nr *rules.NetworkRule) (res Result) {
	fltID, ok := c.netRuleIDs[nr]
	if !ok {
		// Shouldn't happen, since the rule is supposed to come from one of the
		// lists added to the collector.
		panic(fmt.Errorf("filter: network rule %q has no list", nr.Text()))
	}

	if nr.Whitelist {
		return &ResultAllowed{
			List: fltID,
			Rule: RuleText(nr.Text()),
		}
	}

	return &ResultBlocked{
		List: fltID,
		Rule: RuleText(nr.Text()),
	}
}

// hostRulesToResult converts matched /etc/hosts-style rules into a filtering
// result.
func (c *resultCollector) hostRulesToResult(rrType dnsmsg.RRType) (res Result) {
	if len(c.hostRules4) == 0 && len(c.hostRules6) == 0 {
		return nil
	}

	// Only use the first matched rule, since the addresses in the rule don't
	// participate in the verdict.  If the request is neither an A one nor an
	// AAAA one, or if there are no matching rules of the requested type, then
	// use whatever rule isn't empty.
	var hr *rules.HostRule
	if rrType == dns.TypeA && len(c.hostRules4) > 0 {
		hr = c.hostRules4[0]
	} else if rrType == dns.TypeAAAA && len(c.hostRules6) > 0 {
		hr = c.hostRules6[0]
	} else {
		if len(c.hostRules4) > 0 {
			hr = c.hostRules4[0]
		} else {
			hr = c.hostRules6[0]
		}
	}

	fltID, ok := c.hostRuleIDs[hr]
	if !ok {
		// Shouldn't happen, since the rule is supposed to come from one of the
		// lists added to the collector.
		panic(fmt.Errorf("filter: host rule %q has no list", hr.Text()))
	}

	return &ResultBlocked{
		List: fltID,
		Rule: RuleText(hr.Text()),
	}
}
