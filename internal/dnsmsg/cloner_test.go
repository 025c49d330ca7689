package dnsmsg_test

import (
	"testing"

	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newClonerTestResp returns a response with a realistic mix of sections for
// cloner tests.
func newClonerTestResp() (resp *dns.Msg) {
	req := dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)
	resp = dnsservertest.NewResp(
		dns.RcodeSuccess,
		req,
		dnsservertest.SectionAnswer{
			dnsservertest.NewCNAME(testFQDN, 60, "cname.example."),
			dnsservertest.NewA("cname.example.", 60, testIPv4),
			dnsservertest.NewTXT(testFQDN, 60, "text"),
		},
		dnsservertest.SectionNs{
			dnsservertest.NewSOA(testFQDN, 900, "ns.example.", "mbox.example."),
		},
	)
	resp.SetEdns0(dnsmsg.DefaultEDNSUDPSize, true)

	return resp
}

func TestCloner_Clone(t *testing.T) {
	c := dnsmsg.NewCloner(dnsmsg.EmptyClonerStat{})

	resp := newClonerTestResp()
	clone := c.Clone(resp)
	require.NotSame(t, resp, clone)

	assert.Equal(t, resp, clone)

	// Mutating the clone must not affect the original.
	clone.Answer[1].(*dns.A).A[0] = 99
	assert.NotEqual(t, resp, clone)
}

func TestCloner_Clone_full(t *testing.T) {
	var gotFull bool
	c := dnsmsg.NewCloner(&testClonerStat{
		onClone: func(isFull bool) { gotFull = isFull },
	})

	resp := newClonerTestResp()

	clone := c.Clone(resp)
	assert.Equal(t, resp, clone)
	assert.True(t, gotFull)

	// An HTTPS RR is not recognized by the cloner and is copied with
	// [dns.Copy].
	resp.Answer = append(resp.Answer, &dns.HTTPS{
		SVCB: dns.SVCB{
			Hdr: dns.RR_Header{
				Name:   testFQDN,
				Rrtype: dns.TypeHTTPS,
				Class:  dns.ClassINET,
			},
		},
	})

	clone = c.Clone(resp)
	assert.Equal(t, resp, clone)
	assert.False(t, gotFull)
}

func TestCloner_Dispose(t *testing.T) {
	c := dnsmsg.NewCloner(dnsmsg.EmptyClonerStat{})

	resp := newClonerTestResp()

	clone := c.Clone(resp)
	c.Dispose(clone)

	// Cloning after a dispose must reuse the pooled structures and still
	// produce an equal message.
	clone = c.Clone(resp)
	assert.Equal(t, resp, clone)
}

// testClonerStat is a [dnsmsg.ClonerStat] implementation for tests.
type testClonerStat struct {
	onClone func(isFull bool)
}

// type check
var _ dnsmsg.ClonerStat = (*testClonerStat)(nil)

// OnClone implements the [dnsmsg.ClonerStat] interface for *testClonerStat.
func (s *testClonerStat) OnClone(isFull bool) {
	s.onClone(isFull)
}
