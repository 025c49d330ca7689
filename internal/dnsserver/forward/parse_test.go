package forward_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/dnsserver/forward"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUpstreamFromAddress(t *testing.T) {
	testCases := []struct {
		name       string
		addr       string
		wantStr    string
		wantErrMsg string
	}{{
		name:       "bare_ip",
		addr:       "8.8.8.8",
		wantStr:    "8.8.8.8:53",
		wantErrMsg: "",
	}, {
		name:       "bare_ip_port",
		addr:       "8.8.8.8:5353",
		wantStr:    "8.8.8.8:5353",
		wantErrMsg: "",
	}, {
		name:       "bare_ipv6",
		addr:       "2001:4860:4860::8888",
		wantStr:    "[2001:4860:4860::8888]:53",
		wantErrMsg: "",
	}, {
		name:       "udp",
		addr:       "udp://9.9.9.9:5353",
		wantStr:    "9.9.9.9:5353",
		wantErrMsg: "",
	}, {
		name:       "tcp",
		addr:       "tcp://9.9.9.9",
		wantStr:    "tcp://9.9.9.9:53",
		wantErrMsg: "",
	}, {
		name:       "tls_no_port",
		addr:       "tls://dns.example",
		wantStr:    "tls://dns.example:853",
		wantErrMsg: "",
	}, {
		name:       "tls_port",
		addr:       "tls://dns.example:8853",
		wantStr:    "tls://dns.example:8853",
		wantErrMsg: "",
	}, {
		name:       "tls_ipv6",
		addr:       "tls://[::1]",
		wantStr:    "tls://[::1]:853",
		wantErrMsg: "",
	}, {
		name:       "https",
		addr:       "https://dns.example/dns-query",
		wantStr:    "https://dns.example/dns-query",
		wantErrMsg: "",
	}, {
		name:       "plain_hostname",
		addr:       "dns.example",
		wantStr:    "",
		wantErrMsg: "not an ip:port or ip",
	}, {
		name:       "tls_empty_host",
		addr:       "tls://",
		wantStr:    "",
		wantErrMsg: "empty host",
	}, {
		name:       "https_empty_host",
		addr:       "https:///dns-query",
		wantStr:    "",
		wantErrMsg: "empty host",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ups, err := forward.NewUpstreamFromAddress(tc.addr, testTimeout)
			if tc.wantErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErrMsg)

				return
			}

			require.NoError(t, err)
			testutil.CleanupAndRequireSuccess(t, ups.Close)

			assert.Equal(t, tc.wantStr, ups.String())
		})
	}
}

func TestParseUpstreamList(t *testing.T) {
	ups, err := forward.ParseUpstreamList(
		"8.8.8.8, tls://dns.example ,, tcp://1.1.1.1:53",
		1*time.Second,
	)
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		for _, u := range ups {
			err = u.Close()
			if err != nil {
				return err
			}
		}

		return nil
	})

	require.Len(t, ups, 3)
	assert.Equal(t, "8.8.8.8:53", ups[0].String())
	assert.Equal(t, "tls://dns.example:853", ups[1].String())
	assert.Equal(t, "tcp://1.1.1.1:53", ups[2].String())
}

func TestParseUpstreamList_errors(t *testing.T) {
	_, err := forward.ParseUpstreamList(" , ", 1*time.Second)
	assert.ErrorIs(t, err, forward.ErrNoUpstreams)

	_, err = forward.ParseUpstreamList("8.8.8.8,not an addr", 1*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `upstream "not an addr"`)
}
