package dnsmsg_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConstructor is a helper that returns a message constructor with the given
// blocking mode and the common test TTL.
func newConstructor(t *testing.T, mode dnsmsg.BlockingMode) (mc *dnsmsg.Constructor) {
	t.Helper()

	mc, err := dnsmsg.NewConstructor(&dnsmsg.ConstructorConfig{
		Cloner:              dnsmsg.NewCloner(dnsmsg.EmptyClonerStat{}),
		BlockingMode:        mode,
		FilteredResponseTTL: testFltRespTTL,
	})
	require.NoError(t, err)

	return mc
}

func TestNewConstructor_validation(t *testing.T) {
	testCases := []struct {
		conf       *dnsmsg.ConstructorConfig
		name       string
		wantErrMsg string
	}{{
		conf: &dnsmsg.ConstructorConfig{
			Cloner:              nil,
			BlockingMode:        &dnsmsg.BlockingModeNXDOMAIN{},
			FilteredResponseTTL: testFltRespTTL,
		},
		name:       "no_cloner",
		wantErrMsg: "configuration: cloner: no value",
	}, {
		conf: &dnsmsg.ConstructorConfig{
			Cloner:              dnsmsg.NewCloner(dnsmsg.EmptyClonerStat{}),
			BlockingMode:        nil,
			FilteredResponseTTL: testFltRespTTL,
		},
		name:       "no_blocking_mode",
		wantErrMsg: "configuration: blocking mode: no value",
	}, {
		conf: &dnsmsg.ConstructorConfig{
			Cloner:              dnsmsg.NewCloner(dnsmsg.EmptyClonerStat{}),
			BlockingMode:        &dnsmsg.BlockingModeNXDOMAIN{},
			FilteredResponseTTL: -testFltRespTTL,
		},
		name:       "negative_ttl",
		wantErrMsg: "configuration: filtered response TTL: negative value",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dnsmsg.NewConstructor(tc.conf)
			assert.EqualError(t, err, tc.wantErrMsg)
		})
	}
}

func TestConstructor_NewBlockedResp_nullIP(t *testing.T) {
	mc := newConstructor(t, &dnsmsg.BlockingModeNullIP{})

	testCases := []struct {
		name       string
		wantAnsNum int
		qt         uint16
	}{{
		name:       "a",
		wantAnsNum: 1,
		qt:         dns.TypeA,
	}, {
		name:       "aaaa",
		wantAnsNum: 1,
		qt:         dns.TypeAAAA,
	}, {
		name:       "txt",
		wantAnsNum: 0,
		qt:         dns.TypeTXT,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := dnsservertest.NewReq(testFQDN, tc.qt, dns.ClassINET)
			resp, err := mc.NewBlockedResp(req, nil)
			require.NoError(t, err)
			require.NotNil(t, resp)

			assert.Equal(t, dns.RcodeSuccess, resp.Rcode)

			if tc.wantAnsNum == 0 {
				assert.Empty(t, resp.Answer)

				require.Len(t, resp.Ns, 1)

				ns := resp.Ns[0]
				assert.Equal(t, testFltRespTTLSec, ns.Header().Ttl)
			} else {
				require.Len(t, resp.Answer, 1)

				ans := resp.Answer[0]
				assert.Equal(t, testFltRespTTLSec, ans.Header().Ttl)
			}
		})
	}
}

func TestConstructor_NewBlockedResp_customIP(t *testing.T) {
	mc := newConstructor(t, &dnsmsg.BlockingModeCustomIP{
		IPv4: []netip.Addr{testIPv4},
		IPv6: []netip.Addr{testIPv6},
	})

	t.Run("a", func(t *testing.T) {
		req := dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)
		resp, err := mc.NewBlockedResp(req, nil)
		require.NoError(t, err)
		require.Len(t, resp.Answer, 1)

		a := resp.Answer[0].(*dns.A)
		assert.Equal(t, net.IP(testIPv4.AsSlice()), a.A)
		assert.Equal(t, testFltRespTTLSec, a.Hdr.Ttl)
	})

	t.Run("aaaa", func(t *testing.T) {
		req := dnsservertest.NewReq(testFQDN, dns.TypeAAAA, dns.ClassINET)
		resp, err := mc.NewBlockedResp(req, nil)
		require.NoError(t, err)
		require.Len(t, resp.Answer, 1)

		aaaa := resp.Answer[0].(*dns.AAAA)
		assert.Equal(t, net.IP(testIPv6.AsSlice()), aaaa.AAAA)
	})

	t.Run("other_qtype", func(t *testing.T) {
		req := dnsservertest.NewReq(testFQDN, dns.TypeTXT, dns.ClassINET)
		resp, err := mc.NewBlockedResp(req, nil)
		require.NoError(t, err)

		assert.Empty(t, resp.Answer)
		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	})

	t.Run("mode_override", func(t *testing.T) {
		req := dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)
		resp, err := mc.NewBlockedResp(req, &dnsmsg.BlockingModeNXDOMAIN{})
		require.NoError(t, err)

		assert.Empty(t, resp.Answer)
		assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	})
}

func TestConstructor_noAnswerMethods(t *testing.T) {
	mc := newConstructor(t, &dnsmsg.BlockingModeNXDOMAIN{})

	req := dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)

	testCases := []struct {
		method func(req *dns.Msg) (resp *dns.Msg)
		name   string
		want   dnsmsg.RCode
	}{{
		method: mc.NewMsgFORMERR,
		name:   "formerr",
		want:   dns.RcodeFormatError,
	}, {
		method: mc.NewMsgNXDOMAIN,
		name:   "nxdomain",
		want:   dns.RcodeNameError,
	}, {
		method: mc.NewMsgNOTIMPLEMENTED,
		name:   "notimplemented",
		want:   dns.RcodeNotImplemented,
	}, {
		method: mc.NewMsgREFUSED,
		name:   "refused",
		want:   dns.RcodeRefused,
	}, {
		method: mc.NewMsgSERVFAIL,
		name:   "servfail",
		want:   dns.RcodeServerFailure,
	}, {
		method: mc.NewMsgNODATA,
		name:   "nodata",
		want:   dns.RcodeSuccess,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := tc.method(req)
			require.NotNil(t, resp)
			require.Len(t, resp.Ns, 1)

			assert.Empty(t, resp.Answer)
			assert.Equal(t, tc.want, dnsmsg.RCode(resp.Rcode))

			ns := resp.Ns[0]
			assert.Equal(t, testFltRespTTLSec, ns.Header().Ttl)

			soa := ns.(*dns.SOA)
			assert.Equal(t, testFQDN, soa.Hdr.Name)
			assert.Equal(t, "hostmaster."+testFQDN, soa.Mbox)
		})
	}
}

func TestConstructor_NewAnswerA(t *testing.T) {
	mc := newConstructor(t, &dnsmsg.BlockingModeNXDOMAIN{})

	t.Run("success", func(t *testing.T) {
		rr, err := mc.NewAnswerA(testFQDN, testIPv4)
		require.NoError(t, err)

		assert.Equal(t, net.IP(testIPv4.AsSlice()), rr.A)
	})

	t.Run("zero_ip", func(t *testing.T) {
		rr, err := mc.NewAnswerA(testFQDN, netip.Addr{})
		require.NoError(t, err)

		assert.True(t, net.IP(rr.A).IsUnspecified())
	})

	t.Run("bad_family", func(t *testing.T) {
		_, err := mc.NewAnswerA(testFQDN, testIPv6)
		assert.Error(t, err)
	})
}

func TestConstructor_NewAnswerAAAA(t *testing.T) {
	mc := newConstructor(t, &dnsmsg.BlockingModeNXDOMAIN{})

	t.Run("success", func(t *testing.T) {
		rr, err := mc.NewAnswerAAAA(testFQDN, testIPv6)
		require.NoError(t, err)

		assert.Equal(t, net.IP(testIPv6.AsSlice()), rr.AAAA)
	})

	t.Run("bad_family", func(t *testing.T) {
		_, err := mc.NewAnswerAAAA(testFQDN, testIPv4)
		assert.Error(t, err)
	})
}

func TestConstructor_NewRespTXT(t *testing.T) {
	mc := newConstructor(t, &dnsmsg.BlockingModeNXDOMAIN{})

	req := dnsservertest.NewReq(testFQDN, dns.TypeTXT, dns.ClassINET)
	resp, err := mc.NewRespTXT(req, "a", "b")
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)

	txt := resp.Answer[0].(*dns.TXT)
	assert.Equal(t, []string{"a", "b"}, txt.Txt)

	t.Run("too_long", func(t *testing.T) {
		_, err = mc.NewRespTXT(req, string(make([]byte, dnsmsg.MaxTXTStringLen+1)))
		assert.Error(t, err)
	})

	t.Run("bad_qtype", func(t *testing.T) {
		badReq := dnsservertest.NewReq(testFQDN, dns.TypeA, dns.ClassINET)
		_, err = mc.NewRespTXT(badReq, "a")
		assert.Error(t, err)
	})
}
