package dnsmsg_test

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	testutil.DiscardLogOutput(m)
}

// Common filtered response TTL constants.
const (
	testFltRespTTL    = 10 * time.Second
	testFltRespTTLSec = uint32(testFltRespTTL / time.Second)
)

// Common domain names for tests.
const (
	testDomain = "test.example"
	testFQDN   = testDomain + "."
)

// Common IP addresses for tests.
var (
	testIPv4 = netip.MustParseAddr("1.2.3.4")
	testIPv6 = netip.MustParseAddr("1234::cdef")
)

func TestClone(t *testing.T) {
	testCases := []struct {
		msg  *dns.Msg
		name string
	}{{
		msg:  nil,
		name: "nil",
	}, {
		msg:  &dns.Msg{},
		name: "empty",
	}, {
		msg: &dns.Msg{
			Answer: []dns.RR{},
		},
		name: "empty_answer",
	}, {
		msg: dnsservertest.NewResp(
			dns.RcodeSuccess,
			dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET),
			dnsservertest.SectionAnswer{
				dnsservertest.NewA(testFQDN, 10, testIPv4),
			},
		),
		name: "a_resp",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clone := dnsmsg.Clone(tc.msg)
			assert.Equal(t, tc.msg, clone)

			if tc.msg == nil {
				return
			}

			// Make sure that nilness of the sections is retained.
			assert.Equal(t, tc.msg.Answer == nil, clone.Answer == nil)
			assert.Equal(t, tc.msg.Ns == nil, clone.Ns == nil)
			assert.Equal(t, tc.msg.Extra == nil, clone.Extra == nil)
		})
	}
}

func TestIsDO(t *testing.T) {
	msg := dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)
	assert.False(t, dnsmsg.IsDO(msg))

	msg.SetEdns0(dnsmsg.DefaultEDNSUDPSize, false)
	assert.False(t, dnsmsg.IsDO(msg))

	msg = dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)
	msg.SetEdns0(dnsmsg.DefaultEDNSUDPSize, true)
	assert.True(t, dnsmsg.IsDO(msg))
}

func TestFindLowestTTL(t *testing.T) {
	testCases := []struct {
		msg  *dns.Msg
		name string
		want uint32
	}{{
		msg:  &dns.Msg{},
		name: "empty",
		want: 0,
	}, {
		msg: &dns.Msg{
			Answer: []dns.RR{
				dnsservertest.NewA(testFQDN, 300, testIPv4),
				dnsservertest.NewCNAME(testFQDN, 60, "cname.example."),
			},
		},
		name: "min_of_answers",
		want: 60,
	}, {
		msg: &dns.Msg{
			Ns: []dns.RR{
				dnsservertest.NewSOA(testFQDN, 900, "ns.example.", "mbox.example."),
			},
		},
		name: "soa_hdr",
		want: 900,
	}, {
		msg: func() (m *dns.Msg) {
			soa := dnsservertest.NewSOA(testFQDN, 900, "ns.example.", "mbox.example.")
			soa.(*dns.SOA).Minttl = 30

			return &dns.Msg{
				Ns: []dns.RR{soa},
			}
		}(),
		name: "soa_minttl",
		want: 30,
	}, {
		msg: func() (m *dns.Msg) {
			m = &dns.Msg{
				Answer: []dns.RR{
					dnsservertest.NewA(testFQDN, 300, testIPv4),
				},
			}
			m.Rcode = dns.RcodeServerFailure

			return m
		}(),
		name: "servfail_clamped",
		want: dnsmsg.ServFailMaxCacheTTL,
	}, {
		msg: &dns.Msg{
			Extra: []dns.RR{
				&dns.OPT{
					Hdr: dns.RR_Header{
						Name:   ".",
						Rrtype: dns.TypeOPT,
						Ttl:    math.MaxUint32,
					},
				},
			},
		},
		name: "opt_ignored",
		want: 0,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, dnsmsg.FindLowestTTL(tc.msg))
		})
	}
}

func TestSetTTL(t *testing.T) {
	msg := dnsservertest.NewResp(
		dns.RcodeSuccess,
		dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET),
		dnsservertest.SectionAnswer{
			dnsservertest.NewA(testFQDN, 300, testIPv4),
		},
		dnsservertest.SectionNs{
			dnsservertest.NewSOA(testFQDN, 900, "ns.example.", "mbox.example."),
		},
	)
	msg.SetEdns0(dnsmsg.DefaultEDNSUDPSize, false)

	dnsmsg.SetTTL(msg, 42)

	require.Len(t, msg.Answer, 1)
	require.Len(t, msg.Ns, 1)

	assert.Equal(t, uint32(42), msg.Answer[0].Header().Ttl)
	assert.Equal(t, uint32(42), msg.Ns[0].Header().Ttl)

	opt := msg.IsEdns0()
	require.NotNil(t, opt)

	assert.NotEqual(t, uint32(42), opt.Hdr.Ttl)
}

func TestMsg_packRoundTrip(t *testing.T) {
	testCases := []struct {
		msg  *dns.Msg
		name string
	}{{
		msg:  dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET),
		name: "req_a",
	}, {
		msg: func() (m *dns.Msg) {
			m = dnsservertest.NewReq(testFQDN, dns.TypeAAAA, dns.ClassINET)
			m.SetEdns0(dnsmsg.DefaultEDNSUDPSize, true)

			return m
		}(),
		name: "req_edns0_do",
	}, {
		msg: dnsservertest.NewResp(
			dns.RcodeSuccess,
			dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET),
			dnsservertest.SectionAnswer{
				dnsservertest.NewA(testFQDN, 300, testIPv4),
				dnsservertest.NewCNAME(testFQDN, 300, "alias."+testDomain),
				dnsservertest.NewTXT(testFQDN, 300, "value1", "value2"),
			},
			dnsservertest.SectionNs{
				dnsservertest.NewSOA(testFQDN, 900, "ns.example.", "mbox.example."),
			},
		),
		name: "resp_answer",
	}, {
		msg: dnsservertest.NewResp(
			dns.RcodeNameError,
			dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET),
			dnsservertest.SectionNs{
				dnsservertest.NewSOA(testFQDN, 900, "ns.example.", "mbox.example."),
			},
		),
		name: "resp_nxdomain",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.msg.Pack()
			require.NoError(t, err)

			decoded := &dns.Msg{}
			require.NoError(t, decoded.Unpack(data))

			// Compress is not a wire-level property, so carry it over before
			// encoding again.
			decoded.Compress = tc.msg.Compress

			again, err := decoded.Pack()
			require.NoError(t, err)

			assert.Equal(t, data, again)
		})
	}
}

func TestMsg_unpackMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{{
		name: "empty",
		data: nil,
	}, {
		name: "short_header",
		data: []byte{0x12, 0x34, 0x01},
	}, {
		// A valid header followed by a question name that is a compression
		// pointer to itself.  Decoding must fail instead of looping.
		name: "pointer_loop",
		data: []byte{
			0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0xC0, 0x0C,
			0x00, 0x01,
			0x00, 0x01,
		},
	}, {
		// The header promises a question that is not there.
		name: "missing_question",
		data: []byte{
			0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := &dns.Msg{}
			assert.Error(t, m.Unpack(tc.data))
		})
	}
}
