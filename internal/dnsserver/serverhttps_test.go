package dnsserver_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/dnsservertest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

// testTimeout is the common timeout for tests in this package.
const testTimeout = 1 * time.Second

func TestServerHTTPS_integration_serveRequests(t *testing.T) {
	testCases := []struct {
		name          string
		method        string
		json          bool
		reqWireFormat bool
	}{{
		name:   "doh_get_wireformat",
		method: http.MethodGet,
	}, {
		name:   "doh_post_wireformat",
		method: http.MethodPost,
	}, {
		name:   "doh_get_json",
		method: http.MethodGet,
		json:   true,
	}, {
		name:   "doh_post_json",
		method: http.MethodPost,
		json:   true,
	}, {
		name:          "doh_get_json_wireformat",
		method:        http.MethodGet,
		json:          true,
		reqWireFormat: true,
	}, {
		name:          "doh_post_json_wireformat",
		method:        http.MethodPost,
		json:          true,
		reqWireFormat: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tlsConfig := dnsservertest.CreateServerTLSConfig("example.org")

			srv, err := dnsservertest.RunLocalHTTPSServer(
				dnsservertest.NewDefaultHandler(),
				tlsConfig,
				nil,
			)
			require.NoError(t, err)

			testutil.CleanupAndRequireSuccess(t, func() (err error) {
				return srv.Shutdown(context.Background())
			})

			addr := testutil.RequireTypeAssert[*net.TCPAddr](t, srv.LocalTCPAddr())

			req := dnsservertest.CreateMessage("example.org.", dns.TypeA)
			resp := mustDoHReq(t, addr, tlsConfig, tc.method, tc.json, tc.reqWireFormat, req)

			require.True(t, resp.Response)
			require.Equal(t, dns.RcodeSuccess, resp.Rcode)
			require.Len(t, resp.Answer, 1)

			a := testutil.RequireTypeAssert[*dns.A](t, resp.Answer[0])
			assert.Equal(t, "example.org.", a.Hdr.Name)
			assert.Equal(t, net.IPv4(127, 0, 0, 1).To4(), a.A.To4())
		})
	}
}

func TestServerHTTPS_integration_nonDNSHandler(t *testing.T) {
	nonDNSHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	srv, err := dnsservertest.RunLocalHTTPSServer(
		dnsservertest.NewDefaultHandler(),
		nil,
		nonDNSHandler,
	)
	require.NoError(t, err)

	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return srv.Shutdown(context.Background())
	})

	// Any non-DNS path goes to the additional handler.
	client := &http.Client{Timeout: testTimeout}
	httpResp, err := client.Get(fmt.Sprintf("http://%s/web", srv.LocalTCPAddr()))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, httpResp.Body.Close())
	}()

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, "OK", string(body))
}

func TestDNSMsgToJSONMsg(t *testing.T) {
	m := dnsservertest.NewResp(
		dns.RcodeSuccess,
		dnsservertest.NewReq("example.org.", dns.TypeA, dns.ClassINET),
		dnsservertest.SectionAnswer{
			dnsservertest.NewA("example.org.", 100, netip.MustParseAddr("127.0.0.1")),
			dnsservertest.NewCNAME("example.org.", 100, "cname.example.org"),
			dnsservertest.NewTXT("example.org.", 100, "value1", "value2"),
		},
	)

	jsonMsg := dnsserver.DNSMsgToJSONMsg(m)
	require.NotNil(t, jsonMsg)

	assert.Equal(t, dns.RcodeSuccess, jsonMsg.Status)
	assert.False(t, jsonMsg.Truncated)
	assert.True(t, jsonMsg.RecursionAvailable)

	require.Len(t, jsonMsg.Question, 1)
	assert.Equal(t, dnsserver.JSONQuestion{
		Name: "example.org.",
		Type: dns.TypeA,
	}, jsonMsg.Question[0])

	require.Len(t, jsonMsg.Answer, 3)
	assert.Equal(t, dnsserver.JSONAnswer{
		Name:  "example.org.",
		Type:  dns.TypeA,
		Class: dns.ClassINET,
		TTL:   100,
		Data:  "127.0.0.1",
	}, jsonMsg.Answer[0])
	assert.Equal(t, dnsserver.JSONAnswer{
		Name:  "example.org.",
		Type:  dns.TypeCNAME,
		Class: dns.ClassINET,
		TTL:   100,
		Data:  "cname.example.org.",
	}, jsonMsg.Answer[1])
	assert.Equal(t, dnsserver.JSONAnswer{
		Name:  "example.org.",
		Type:  dns.TypeTXT,
		Class: dns.ClassINET,
		TTL:   100,
		Data:  `"value1" "value2"`,
	}, jsonMsg.Answer[2])
}

// mustDoHReq sends the DNS query to the specified DoH server address over
// HTTP and returns the decoded response.  When json is true, the query is
// sent to the JSON API, and requestWireformat selects the wireformat response
// content type there.
func mustDoHReq(
	t testing.TB,
	httpsAddr *net.TCPAddr,
	tlsConfig *tls.Config,
	method string,
	json bool,
	requestWireformat bool,
	msg *dns.Msg,
) (resp *dns.Msg) {
	t.Helper()

	client, err := createDoH2Client(httpsAddr, tlsConfig)
	require.NoError(t, err)

	var httpReq *http.Request
	if json {
		httpReq, err = createJSONRequest(method, requestWireformat, msg)
	} else {
		httpReq, err = createDoHRequest(method, msg)
	}
	require.NoError(t, err)

	httpResp, err := client.Do(httpReq)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, httpResp.Body.Close())
	}()

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Equal(t, "HTTP/2.0", httpResp.Proto)

	ct := httpResp.Header.Get(httphdr.ContentType)
	if ct == dnsserver.MimeTypeJSON {
		resp, err = unpackJSONMsg(body)
	} else {
		require.Equal(t, dnsserver.MimeTypeDoH, ct)

		resp, err = unpackDoHMsg(body)
	}
	require.NoError(t, err)
	require.NotNil(t, resp)

	return resp
}

// createDoH2Client creates an HTTP/2 client that routes all connections to
// the specified address.
func createDoH2Client(
	httpsAddr net.Addr,
	tlsConfig *tls.Config,
) (client *http.Client, err error) {
	dialer := &net.Dialer{Timeout: testTimeout}
	dialContext := func(ctx context.Context, network, addr string) (conn net.Conn, err error) {
		// Route all connections to the test server's address.
		return dialer.DialContext(ctx, "tcp", httpsAddr.String())
	}

	transport := &http.Transport{
		TLSClientConfig:    tlsConfig,
		DisableCompression: true,
		DialContext:        dialContext,
		ForceAttemptHTTP2:  true,
	}

	err = http2.ConfigureTransport(transport)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: transport,
		Timeout:   testTimeout,
	}, nil
}

// createDoHRequest builds a DoH wireformat request.  GET requests carry the
// packed message in the "dns" query parameter, POST requests in the body.
func createDoHRequest(method string, msg *dns.Msg) (r *http.Request, err error) {
	data, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	u := url.URL{
		Scheme: "https",
		Host:   "test.local",
		Path:   dnsserver.PathDoH,
	}

	var body io.Reader
	if method == http.MethodGet {
		u.RawQuery = url.Values{
			"dns": []string{base64.RawURLEncoding.EncodeToString(data)},
		}.Encode()
	} else {
		body = bytes.NewBuffer(data)
	}

	r, err = http.NewRequest(method, u.String(), body)
	if err != nil {
		return nil, err
	}

	r.Header.Set(httphdr.ContentType, dnsserver.MimeTypeDoH)
	r.Header.Set(httphdr.Accept, dnsserver.MimeTypeDoH)

	return r, nil
}

// createJSONRequest builds a JSON API request from the question of msg.
func createJSONRequest(
	method string,
	requestWireformat bool,
	msg *dns.Msg,
) (r *http.Request, err error) {
	q := url.Values{}
	q.Set("name", msg.Question[0].Name)
	q.Set("type", dns.TypeToString[msg.Question[0].Qtype])
	q.Set("cd", strconv.FormatBool(msg.CheckingDisabled))
	if requestWireformat {
		q.Set("ct", dnsserver.MimeTypeDoH)
	}

	u := url.URL{
		Scheme:   "https",
		Host:     "test.local",
		Path:     dnsserver.PathJSON,
		RawQuery: q.Encode(),
	}

	r, err = http.NewRequest(method, u.String(), nil)
	if err != nil {
		return nil, err
	}

	r.Header.Set(httphdr.ContentType, dnsserver.MimeTypeJSON)
	r.Header.Set(httphdr.Accept, dnsserver.MimeTypeJSON)

	return r, nil
}

// unpackJSONMsg rebuilds a *dns.Msg from its JSON API representation.  Only A
// and AAAA answers are supported.
func unpackJSONMsg(b []byte) (m *dns.Msg, err error) {
	var jsonMsg *dnsserver.JSONMsg
	err = json.Unmarshal(b, &jsonMsg)
	if err != nil {
		return nil, err
	}

	m = &dns.Msg{
		MsgHdr: dns.MsgHdr{
			Response:           true,
			Rcode:              jsonMsg.Status,
			Truncated:          jsonMsg.Truncated,
			RecursionDesired:   jsonMsg.RecursionDesired,
			RecursionAvailable: jsonMsg.RecursionAvailable,
			AuthenticatedData:  jsonMsg.AuthenticatedData,
			CheckingDisabled:   jsonMsg.CheckingDisabled,
		},
	}

	for _, q := range jsonMsg.Question {
		m.Question = append(m.Question, dns.Question{
			Name:   q.Name,
			Qtype:  q.Type,
			Qclass: dns.ClassINET,
		})
	}

	for _, a := range jsonMsg.Answer {
		hdr := dns.RR_Header{
			Name:   a.Name,
			Rrtype: a.Type,
			Class:  a.Class,
			Ttl:    a.TTL,
		}

		switch a.Type {
		case dns.TypeA:
			m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP(a.Data)})
		case dns.TypeAAAA:
			m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP(a.Data)})
		default:
			return nil, fmt.Errorf("unsupported answer type %d", a.Type)
		}
	}

	return m, nil
}

// unpackDoHMsg unpacks a wireformat DNS response.
func unpackDoHMsg(b []byte) (m *dns.Msg, err error) {
	m = &dns.Msg{}

	return m, m.Unpack(b)
}
