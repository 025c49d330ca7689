package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/miekg/dns"
)

// mimeTypeDoH is the DNS-over-HTTPS media type used in requests to the
// upstream.
const mimeTypeDoH = "application/dns-message"

// UpstreamHTTPS is a DNS-over-HTTPS client.  A single HTTP client is shared
// by all queries, so that the underlying connections are reused and HTTP/2
// multiplexing is put to work.
type UpstreamHTTPS struct {
	client *http.Client
	url    *url.URL

	// timeout is the query timeout for this upstream.
	timeout time.Duration
}

// type check
var _ Upstream = (*UpstreamHTTPS)(nil)

// UpstreamHTTPSConfig is the configuration structure for a DNS-over-HTTPS
// upstream.
type UpstreamHTTPSConfig struct {
	// URL is the full URL of the DoH resolver, e.g.
	// "https://dns.example.com/dns-query".  It must not be nil.
	URL *url.URL

	// Timeout is the optional query timeout for this upstream.  If not set,
	// the context deadline is used.
	Timeout time.Duration
}

// NewUpstreamHTTPS returns a new properly initialized *UpstreamHTTPS.  c must
// not be nil.
func NewUpstreamHTTPS(c *UpstreamHTTPSConfig) (ups *UpstreamHTTPS) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
		IdleConnTimeout:   poolIdleTimeout,
	}

	return &UpstreamHTTPS{
		client: &http.Client{
			Transport: transport,
		},
		url: c.URL,

		timeout: c.Timeout,
	}
}

// Exchange implements the [Upstream] interface for [*UpstreamHTTPS].  The
// query is sent with the POST method, as it's a bit more compact on the wire
// and every public DoH resolver supports it.
func (u *UpstreamHTTPS) Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error) {
	defer func() { err = errors.Annotate(err, "upstreamhttps: %w") }()

	if u.timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		u.url.String(),
		bytes.NewReader(packed),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http request: %w", err)
	}

	httpReq.Header.Set(httphdr.ContentType, mimeTypeDoH)
	httpReq.Header.Set(httphdr.Accept, mimeTypeDoH)

	httpResp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending http request: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, httpResp.Body.Close()) }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected http status: %s", httpResp.Status)
	}

	body, err := io.ReadAll(ioutil.LimitReader(httpResp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, fmt.Errorf("reading http response: %w", err)
	}

	resp = &dns.Msg{}
	err = resp.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("unpacking msg: %w", err)
	}

	err = validatePlainResponse(req, resp)
	if err != nil {
		return resp, fmt.Errorf("validating https response: %w", err)
	}

	return resp, nil
}

// Close implements the io.Closer interface for *UpstreamHTTPS.
func (u *UpstreamHTTPS) Close() (err error) {
	u.client.CloseIdleConnections()

	return nil
}

// String implements the fmt.Stringer interface for *UpstreamHTTPS.
func (u *UpstreamHTTPS) String() (str string) {
	return u.url.String()
}
