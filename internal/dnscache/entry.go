package dnscache

import (
	"math"
	"slices"
	"time"

	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/miekg/dns"
)

// entry is a single cached response.  Entries are immutable once stored.
type entry struct {
	// resp is the stored response template.  It is never modified and never
	// handed out directly.
	resp *dns.Msg

	// insertedAt and expiresAt bound the life of the entry.  expiresAt has
	// the configured clamps applied.
	insertedAt time.Time
	expiresAt  time.Time

	// minTTL is the lowest TTL of the response as received, before clamping.
	minTTL uint32

	// negative shows whether the response carries no usable answer, that is,
	// NXDOMAIN, NODATA, or SERVFAIL.
	negative bool
}

// storedResp returns a copy of resp suitable for storing in an entry.  OPT
// records are dropped, since they are hop-by-hop.
func storedResp(resp *dns.Msg) (stored *dns.Msg) {
	stored = dnsmsg.Clone(resp)
	stored.Extra = slices.DeleteFunc(stored.Extra, func(rr dns.RR) (del bool) {
		return rr.Header().Rrtype == dns.TypeOPT
	})

	return stored
}

// respWithTTL returns a copy of the entry's response with every record TTL
// set to ttl.
func (e *entry) respWithTTL(ttl uint32) (resp *dns.Msg) {
	resp = dnsmsg.Clone(e.resp)
	for _, rrs := range [][]dns.RR{resp.Answer, resp.Ns, resp.Extra} {
		for _, rr := range rrs {
			rr.Header().Ttl = ttl
		}
	}

	return resp
}

// responseCacheability reports whether resp may be cached at all and whether
// it is a negative response.  Truncated responses and responses without
// exactly one question are never cacheable.  NOERROR responses are cacheable
// when they either answer the question or are a NODATA response with an SOA
// record in the authority section, per RFC 2308.
func responseCacheability(resp *dns.Msg) (cacheable, negative bool) {
	if resp == nil || resp.Truncated || len(resp.Question) != 1 {
		return false, false
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		return noerrorCacheability(resp)
	case dns.RcodeNameError, dns.RcodeServerFailure:
		return true, true
	default:
		return false, false
	}
}

// noerrorCacheability reports the cacheability of a NOERROR response.  The
// answer section is scanned skipping CNAME and SIG records, because a NODATA
// response may consist of those alone; any other record that does not match
// the question type makes the response uncacheable.
//
// See https://datatracker.ietf.org/doc/html/rfc2308#section-2.2.
func noerrorCacheability(resp *dns.Msg) (cacheable, negative bool) {
	qt := resp.Question[0].Qtype
	for _, rr := range resp.Answer {
		switch rr.Header().Rrtype {
		case qt:
			return true, false
		case dns.TypeCNAME, dns.TypeSIG:
			// Could still be a NODATA response.  Go on.
		default:
			return false, false
		}
	}

	// A NODATA response must have an SOA record in the authority section to
	// derive the negative TTL from.
	//
	// See https://datatracker.ietf.org/doc/html/rfc2308#section-5.
	for _, rr := range resp.Ns {
		if _, ok := rr.(*dns.SOA); ok {
			return true, true
		}
	}

	return false, false
}

// lowestTTL returns the lowest TTL in seconds among all records of resp,
// taking the SOA MINIMUM field into account per RFC 2308 and capping SERVFAIL
// responses at [dnsmsg.ServFailMaxCacheTTL].  It returns zero for responses
// that have no TTL to derive an expiry from.
func lowestTTL(resp *dns.Msg) (ttl uint32) {
	// Use the maximum value as a guard.  If the inner loop is entered, it is
	// rewritten with an actual TTL lower than MaxUint32; otherwise catch the
	// guard below and return zero.
	ttl = math.MaxUint32
	for _, rrs := range [][]dns.RR{resp.Answer, resp.Ns, resp.Extra} {
		for _, rr := range rrs {
			ttl = lowerTTL(rr, ttl)
			if ttl == 0 {
				return 0
			}
		}
	}

	switch {
	case resp.Rcode == dns.RcodeServerFailure && ttl > dnsmsg.ServFailMaxCacheTTL:
		return dnsmsg.ServFailMaxCacheTTL
	case ttl == math.MaxUint32:
		return 0
	default:
		return ttl
	}
}

// lowerTTL returns the TTL of r if it's lower than ttl.  The TTLs of OPT
// records are ignored, and for SOA records the MINIMUM field is taken into
// account per RFC 2308.
func lowerTTL(r dns.RR, ttl uint32) (res uint32) {
	switch r := r.(type) {
	case *dns.OPT:
		return ttl
	case *dns.SOA:
		if r.Minttl > 0 && r.Minttl < ttl {
			ttl = r.Minttl
		}
	default:
		// Go on.
	}

	if httl := r.Header().Ttl; httl < ttl {
		return httl
	}

	return ttl
}

// roundDiv divides num by denom, rounding towards the nearest integer.  denom
// must be positive.
func roundDiv(num, denom time.Duration) (res time.Duration) {
	return (num + denom/2) / denom
}
