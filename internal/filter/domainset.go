package filter

import (
	"strings"

	"github.com/AdguardTeam/golibs/container"
)

// DomainSet is an immutable set of lower-case domain names.  A name matches
// the set if the name itself or any of its label-aligned parent suffixes is
// present.  The zero value is not usable; use [NewDomainSet].
type DomainSet struct {
	domains *container.MapSet[string]
}

// NewDomainSet returns a domain set containing the given domains.  Domains
// are normalized with [NormalizeDomain]; empty entries are skipped.
func NewDomainSet(domains []string) (s *DomainSet) {
	set := container.NewMapSet[string]()
	for _, d := range domains {
		d = NormalizeDomain(d)
		if d != "" {
			set.Add(d)
		}
	}

	return &DomainSet{
		domains: set,
	}
}

// Contains returns true if host itself is in the set.  host must be
// normalized.
func (s *DomainSet) Contains(host string) (ok bool) {
	return s.domains.Has(host)
}

// MatchSuffix reports whether host or any of its label-aligned parent
// suffixes is in the set and returns the matched entry.  host must be
// normalized.
func (s *DomainSet) MatchSuffix(host string) (rule string, ok bool) {
	for sub := host; sub != ""; {
		if s.domains.Has(sub) {
			return sub, true
		}

		i := strings.IndexByte(sub, '.')
		if i < 0 {
			break
		}

		sub = sub[i+1:]
	}

	return "", false
}

// Len returns the number of domains in the set.
func (s *DomainSet) Len() (n int) {
	return s.domains.Len()
}

// NormalizeDomain returns the canonical form of the domain used throughout
// the filtering code: lower-case with no trailing dot.
func NormalizeDomain(domain string) (norm string) {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}
