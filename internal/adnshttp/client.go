package adnshttp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/amberdns/amberdns/internal/adns"
)

// Client is a wrapper around http.Client for outbound requests such as adlist
// feed fetches.
type Client struct {
	http      *http.Client
	userAgent string
}

// ClientConfig is the configuration structure for Client.
type ClientConfig struct {
	// Timeout is the timeout for all requests.
	Timeout time.Duration
}

// NewClient returns a new client.  c must not be nil.
func NewClient(c *ClientConfig) (cli *Client) {
	return &Client{
		http: &http.Client{
			Timeout: c.Timeout,
		},
		userAgent: UserAgent(),
	}
}

// Get is a wrapper around http.Client.Get.
//
// When err is nil, resp always contains a non-nil resp.Body.  Caller should
// close resp.Body when done reading from it.
//
// See also go doc http.Client.Get.
func (c *Client) Get(ctx context.Context, u *url.URL) (resp *http.Response, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating get request: %w", err)
	}

	reqID, ok := adns.RequestIDFromContext(ctx)
	if ok {
		req.Header.Set(httphdr.XRequestID, reqID.String())
	}

	req.Header.Set(httphdr.UserAgent, c.userAgent)

	resp, err = c.http.Do(req)
	if err != nil && resp != nil && resp.Header != nil {
		// A non-nil response with a non-nil error only occurs when
		// CheckRedirect fails.
		return resp, WrapServerError(err, resp)
	}

	return resp, err
}
