package zone

import (
	"strings"

	"github.com/miekg/dns"
)

// answer builds the authoritative response for an ordinary query.  qname is
// the lower-case question name; s is nil when the answer must stay unsigned.
func (zd *zoneData) answer(req *dns.Msg, qname string, s *rrSigner) (resp *dns.Msg) {
	resp = (&dns.Msg{}).SetReply(req)
	resp.Authoritative = true

	qtype := req.Question[0].Qtype

	if qname == zd.apex {
		switch qtype {
		case dns.TypeSOA:
			zd.appendAnswer(resp, []dns.RR{zd.soa}, s)

			return resp
		case dns.TypeDNSKEY:
			if rrs := zd.dnskeyRRs(); len(rrs) > 0 {
				zd.appendAnswer(resp, rrs, s)

				return resp
			}
		}
	}

	sets, exists := zd.lookupOwner(qname)
	if !exists {
		resp.Rcode = dns.RcodeNameError
		zd.appendNegative(resp)

		return resp
	}

	if qtype == dns.TypeANY {
		for _, rrs := range sets {
			zd.appendAnswer(resp, rrs, s)
		}

		if len(resp.Answer) == 0 {
			zd.appendNegative(resp)
		}

		return resp
	}

	if rrs := sets[qtype]; len(rrs) > 0 {
		zd.appendAnswer(resp, rrs, s)

		return resp
	}

	// A CNAME answers any other type at its owner, chased one step when the
	// target is local to the zone.  External targets are left to the client.
	if cnames := sets[dns.TypeCNAME]; len(cnames) > 0 && qtype != dns.TypeCNAME {
		zd.appendAnswer(resp, cnames, s)

		target := strings.ToLower(cnames[0].(*dns.CNAME).Target)
		if tsets, ok := zd.lookupOwner(target); ok {
			if trrs := tsets[qtype]; len(trrs) > 0 {
				zd.appendAnswer(resp, trrs, s)
			}
		}

		return resp
	}

	zd.appendNegative(resp)

	return resp
}

// lookupOwner finds the record sets at name, synthesizing wildcard matches.
// exists is true when the name is in the zone even without records of any
// type, including empty non-terminals.
func (zd *zoneData) lookupOwner(name string) (sets map[uint16][]dns.RR, exists bool) {
	if sets, ok := zd.rrsets[name]; ok {
		return sets, true
	}

	// Wildcard match: the closest enclosing "*" owner covers the name.
	for cand := name; cand != zd.apex; {
		i := strings.Index(cand, ".")
		if i < 0 || i == len(cand)-1 {
			break
		}

		cand = cand[i+1:]
		if wsets, ok := zd.rrsets["*."+cand]; ok {
			return synthesize(wsets, name), true
		}
	}

	// Empty non-terminal: records exist below the name.
	suffix := "." + name
	for owner := range zd.rrsets {
		if strings.HasSuffix(owner, suffix) {
			return map[uint16][]dns.RR{}, true
		}
	}

	if name == zd.apex {
		return map[uint16][]dns.RR{}, true
	}

	return nil, false
}

// synthesize copies the wildcard record sets with the owner replaced by name.
func synthesize(wsets map[uint16][]dns.RR, name string) (sets map[uint16][]dns.RR) {
	sets = make(map[uint16][]dns.RR, len(wsets))
	for typ, rrs := range wsets {
		out := make([]dns.RR, 0, len(rrs))
		for _, rr := range rrs {
			c := dns.Copy(rr)
			c.Header().Name = name
			out = append(out, c)
		}

		sets[typ] = out
	}

	return sets
}

// appendAnswer adds an RRset to the answer section, following it with an
// RRSIG when signing is on.
func (zd *zoneData) appendAnswer(resp *dns.Msg, rrs []dns.RR, s *rrSigner) {
	resp.Answer = append(resp.Answer, rrs...)

	if s == nil {
		return
	}

	sigs, err := s.sign(rrs)
	if err != nil {
		// An unsignable RRset is served unsigned; validating resolvers will
		// treat the zone as bogus, which is preferable to dropping data.
		return
	}

	resp.Answer = append(resp.Answer, sigs...)
}

// appendNegative puts the zone SOA into the authority section with the
// negative-caching TTL.  Negative answers are not signed, as the zone has no
// NSEC chain.
func (zd *zoneData) appendNegative(resp *dns.Msg) {
	soa := dns.Copy(zd.soa).(*dns.SOA)
	soa.Hdr.Ttl = min(zd.soa.Hdr.Ttl, zd.soa.Minttl)

	resp.Ns = append(resp.Ns, soa)
}
