package debugsvc_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/amberdns/amberdns/internal/adnstest"
	"github.com/amberdns/amberdns/internal/debugsvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is a common timeout for tests.
const testTimeout = 1 * time.Second

// testStatusSource is a [debugsvc.StatusSource] for tests.
type testStatusSource struct {
	mu *sync.Mutex
	st *debugsvc.Status
}

// Status implements the [debugsvc.StatusSource] interface for
// *testStatusSource.
func (s *testStatusSource) Status() (st *debugsvc.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st
}

// set replaces the snapshot returned by s.
func (s *testStatusSource) set(st *debugsvc.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st = st
}

// healthyStatus returns a snapshot of a healthy resolver with the plain-DNS
// listeners up.
func healthyStatus() (st *debugsvc.Status) {
	return &debugsvc.Status{
		Servers: map[string]debugsvc.ServerHealth{
			debugsvc.ServerUDP: {Enabled: true, Up: true},
			debugsvc.ServerTCP: {Enabled: true, Up: true},
			debugsvc.ServerDoT: {},
			debugsvc.ServerDoH: {},
		},
		Uptime:  10 * time.Second,
		Queries: 1000,
		Errors:  1,
	}
}

func TestService_Start(t *testing.T) {
	const addr = "127.0.0.1:8082"

	statusSrc := &testStatusSource{
		mu: &sync.Mutex{},
		st: healthyStatus(),
	}

	refreshed := false
	c := &debugsvc.Config{
		Logger: slogutil.NewDiscardLogger(),
		Status: statusSrc,
		Refreshers: debugsvc.Refreshers{
			"test": &adnstest.Refresher{
				OnRefresh: func(_ context.Context) (err error) {
					refreshed = true

					return nil
				},
			},
		},
		APIAddr:        addr,
		PprofAddr:      addr,
		PrometheusAddr: addr,
	}

	svc := debugsvc.New(c)
	require.NotNil(t, svc)

	var err error
	require.NotPanics(t, func() {
		err = svc.Start(testutil.ContextWithTimeout(t, testTimeout))
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return svc.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	client := http.Client{
		Timeout: 2 * time.Second,
	}

	var resp *http.Response
	var body []byte

	// First check the health URL.  As the service could not be ready yet,
	// check for it periodically.
	require.Eventually(t, func() bool {
		resp, err = client.Get(fmt.Sprintf("http://%s/health", addr))
		return err == nil
	}, 1*time.Second, 100*time.Millisecond)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeHealth(t, resp)
	assert.Equal(t, debugsvc.StatusOK, health["status"])
	assert.Equal(t, float64(10_000), health["uptimeMs"])
	assert.Equal(t, float64(100), health["qps"])

	servers := health["servers"].(map[string]any)
	assert.Equal(t, "up", servers["udp"])
	assert.Equal(t, "disabled", servers["dot"])

	// Check pprof service URL.
	resp, err = client.Get(fmt.Sprintf("http://%s/debug/pprof/", addr))
	require.NoError(t, err)

	body = readRespBody(t, resp)
	assert.True(t, len(body) > 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Check prometheus service URL.
	resp, err = client.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)

	body = readRespBody(t, resp)
	assert.True(t, len(body) > 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Check refresh API.
	reqBody := strings.NewReader(`{"ids":["test"]}`)
	urlStr := fmt.Sprintf("http://%s/debug/api/refresh", addr)
	resp, err = client.Post(urlStr, "application/json", reqBody)
	require.NoError(t, err)

	assert.True(t, refreshed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body = readRespBody(t, resp)
	assert.Equal(t, []byte(`{"results":{"test":"ok"}}`+"\n"), body)
}

// testClearer is an [adnscache.Clearer] for tests.
type testClearer struct {
	onClear func()
}

// Clear implements the [adnscache.Clearer] interface for *testClearer.
func (c *testClearer) Clear() {
	c.onClear()
}

func TestService_cacheClear(t *testing.T) {
	const addr = "127.0.0.1:8084"

	cleared := map[string]int{}
	mgr := adnscache.NewDefaultManager()
	for _, id := range []string{debugsvc.CacheIDDNS, debugsvc.CacheIDPolicyDecisions} {
		mgr.Add(id, &testClearer{
			onClear: func() { cleared[id]++ },
		})
	}

	svc := debugsvc.New(&debugsvc.Config{
		Logger: slogutil.NewDiscardLogger(),
		Status: &testStatusSource{
			mu: &sync.Mutex{},
			st: healthyStatus(),
		},
		CacheManager: mgr,
		APIAddr:      addr,
	})

	err := svc.Start(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return svc.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	client := http.Client{
		Timeout: 2 * time.Second,
	}

	require.Eventually(t, func() bool {
		_, err = client.Get(fmt.Sprintf("http://%s/health", addr))
		return err == nil
	}, 1*time.Second, 100*time.Millisecond)

	urlStr := fmt.Sprintf("http://%s/debug/api/cache/clear", addr)

	// Clear one cache by its identifier.
	reqBody := strings.NewReader(`{"ids":["policy_decisions"]}`)
	resp, err := client.Post(urlStr, "application/json", reqBody)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := readRespBody(t, resp)
	assert.Equal(t, []byte(`{"results":{"policy_decisions":"ok"}}`+"\n"), body)

	assert.Equal(t, 1, cleared[debugsvc.CacheIDPolicyDecisions])
	assert.Equal(t, 0, cleared[debugsvc.CacheIDDNS])

	// A single "*" clears everything that is registered.
	reqBody = strings.NewReader(`{"ids":["*"]}`)
	resp, err = client.Post(urlStr, "application/json", reqBody)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = readRespBody(t, resp)

	assert.Equal(t, 2, cleared[debugsvc.CacheIDPolicyDecisions])
	assert.Equal(t, 1, cleared[debugsvc.CacheIDDNS])

	// An unknown identifier is reported and does not fail the rest.
	reqBody = strings.NewReader(`{"ids":["nonexistent"]}`)
	resp, err = client.Post(urlStr, "application/json", reqBody)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = readRespBody(t, resp)
	assert.Equal(t, []byte(`{"results":{"nonexistent":"error: cache not found"}}`+"\n"), body)
}

func TestService_health(t *testing.T) {
	const addr = "127.0.0.1:8083"

	statusSrc := &testStatusSource{
		mu: &sync.Mutex{},
		st: healthyStatus(),
	}

	svc := debugsvc.New(&debugsvc.Config{
		Logger:  slogutil.NewDiscardLogger(),
		Status:  statusSrc,
		APIAddr: addr,
	})

	err := svc.Start(testutil.ContextWithTimeout(t, testTimeout))
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return svc.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	client := http.Client{
		Timeout: 2 * time.Second,
	}

	require.Eventually(t, func() bool {
		_, err = client.Get(fmt.Sprintf("http://%s/health", addr))
		return err == nil
	}, 1*time.Second, 100*time.Millisecond)

	errorRateStatus := func(errors uint64) (st *debugsvc.Status) {
		st = healthyStatus()
		st.Errors = errors

		return st
	}

	listenerDownStatus := func(name string) (st *debugsvc.Status) {
		st = healthyStatus()
		st.Servers[name] = debugsvc.ServerHealth{Enabled: true, Up: false}

		return st
	}

	testCases := []struct {
		st         *debugsvc.Status
		name       string
		wantStatus string
		wantCode   int
	}{{
		st:         healthyStatus(),
		name:       "ok",
		wantStatus: debugsvc.StatusOK,
		wantCode:   http.StatusOK,
	}, {
		st:         errorRateStatus(20),
		name:       "degraded_errors",
		wantStatus: debugsvc.StatusDegraded,
		wantCode:   http.StatusOK,
	}, {
		st:         errorRateStatus(100),
		name:       "unhealthy_errors",
		wantStatus: debugsvc.StatusUnhealthy,
		wantCode:   http.StatusServiceUnavailable,
	}, {
		st:         listenerDownStatus(debugsvc.ServerTCP),
		name:       "degraded_listener",
		wantStatus: debugsvc.StatusDegraded,
		wantCode:   http.StatusOK,
	}, {
		st:         listenerDownStatus(debugsvc.ServerUDP),
		name:       "unhealthy_primary",
		wantStatus: debugsvc.StatusUnhealthy,
		wantCode:   http.StatusServiceUnavailable,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			statusSrc.set(tc.st)

			resp, reqErr := client.Get(fmt.Sprintf("http://%s/health", addr))
			require.NoError(t, reqErr)

			assert.Equal(t, tc.wantCode, resp.StatusCode)

			health := decodeHealth(t, resp)
			assert.Equal(t, tc.wantStatus, health["status"])
		})
	}
}

func TestTracker(t *testing.T) {
	clock := timeutil.SystemClock{}
	tr := debugsvc.NewTracker(clock, []string{debugsvc.ServerUDP, debugsvc.ServerTCP})
	tr.SetServerUp(debugsvc.ServerUDP, true)

	tr.OnQuery(false)
	tr.OnQuery(false)
	tr.OnQuery(true)

	st := tr.Status()
	assert.Equal(t, uint64(3), st.Queries)
	assert.Equal(t, uint64(1), st.Errors)

	assert.Equal(t, debugsvc.ServerHealth{Enabled: true, Up: true}, st.Servers[debugsvc.ServerUDP])
	assert.Equal(t, debugsvc.ServerHealth{Enabled: true}, st.Servers[debugsvc.ServerTCP])
	assert.Equal(t, debugsvc.ServerHealth{}, st.Servers[debugsvc.ServerDoH])
}

// decodeHealth is a helper function that decodes the JSON body of a health
// response.
func decodeHealth(t testing.TB, resp *http.Response) (health map[string]any) {
	t.Helper()

	health = map[string]any{}
	err := json.NewDecoder(resp.Body).Decode(&health)
	require.NoError(t, err)

	return health
}

// readRespBody is a helper function that reads and returns body from response.
func readRespBody(t testing.TB, resp *http.Response) (body []byte) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return body
}
