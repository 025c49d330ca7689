package filter_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/adnshttp"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// refrID is the filter list ID used in refreshable tests.
const refrID filter.ID = "test_id"

// testServerName is the common server name for filtering tests.
const testServerName = "testServer/1.0"

// testMaxSize is the maximum size of downloadable data in tests.
const testMaxSize = 640 * datasize.KB

// Default texts for tests.
const (
	testTextFile = "filefilter.example\n"
	testTextURL  = "urlfilter.example\n"
)

// prepareRefreshable starts a test server serving text with the given status
// code and returns the path of an existing empty cache file along with the
// server URL.
func prepareRefreshable(
	tb testing.TB,
	reqCh chan<- struct{},
	text string,
	code int,
) (cachePath string, srvURL *url.URL) {
	tb.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pt := testutil.PanicT{}
		if reqCh != nil {
			testutil.RequireSend(pt, reqCh, struct{}{}, testTimeout)
		}

		w.Header().Set(httphdr.Server, testServerName)

		w.WriteHeader(code)

		_, writeErr := io.WriteString(w, text)
		require.NoError(pt, writeErr)
	}))
	tb.Cleanup(srv.Close)

	srvURL, err := adnshttp.ParseHTTPURL(srv.URL)
	require.NoError(tb, err)

	cacheDir := tb.TempDir()
	cacheFile, err := os.CreateTemp(cacheDir, filepath.Base(tb.Name()))
	require.NoError(tb, err)
	require.NoError(tb, cacheFile.Close())

	return cacheFile.Name(), srvURL
}

func TestRefreshable_Refresh(t *testing.T) {
	testCases := []struct {
		name         string
		wantErrMsg   string
		srvText      string
		wantData     []byte
		staleness    time.Duration
		srvCode      int
		acceptStale  bool
		expectReq    bool
		useCacheFile bool
	}{{
		name:         "no_file",
		wantErrMsg:   "",
		srvText:      testTextURL,
		wantData:     []byte(testTextURL),
		staleness:    0,
		srvCode:      http.StatusOK,
		acceptStale:  true,
		expectReq:    true,
		useCacheFile: false,
	}, {
		name: "no_file_http_empty",
		wantErrMsg: string(refrID) + `: refreshing from url "URL": ` +
			`server "` + testServerName + `": empty text, not resetting`,
		srvText:      "",
		wantData:     nil,
		staleness:    0,
		srvCode:      http.StatusOK,
		acceptStale:  true,
		expectReq:    true,
		useCacheFile: false,
	}, {
		name: "no_file_http_error",
		wantErrMsg: string(refrID) + `: refreshing from url "URL": ` +
			`server "` + testServerName + `": ` +
			`status code error: expected 200, got 500`,
		srvText:      "internal server error",
		wantData:     nil,
		staleness:    0,
		srvCode:      http.StatusInternalServerError,
		acceptStale:  true,
		expectReq:    true,
		useCacheFile: false,
	}, {
		name:         "file",
		wantErrMsg:   "",
		srvText:      "",
		wantData:     []byte(testTextFile),
		staleness:    1 * time.Hour,
		srvCode:      http.StatusOK,
		acceptStale:  false,
		expectReq:    false,
		useCacheFile: true,
	}, {
		name:         "file_stale",
		wantErrMsg:   "",
		srvText:      testTextURL,
		wantData:     []byte(testTextURL),
		staleness:    -1 * time.Hour,
		srvCode:      http.StatusOK,
		acceptStale:  false,
		expectReq:    true,
		useCacheFile: true,
	}, {
		name:         "file_stale_accept",
		wantErrMsg:   "",
		srvText:      "",
		wantData:     []byte(testTextFile),
		staleness:    -1 * time.Hour,
		srvCode:      http.StatusOK,
		acceptStale:  true,
		expectReq:    false,
		useCacheFile: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reqCh := make(chan struct{}, 1)
			realCachePath, srvURL := prepareRefreshable(t, reqCh, tc.srvText, tc.srvCode)
			cachePath := prepareCachePath(t, realCachePath, tc.useCacheFile)

			f, err := filter.NewRefreshable(&filter.RefreshableConfig{
				Logger:    slogutil.NewDiscardLogger(),
				URL:       srvURL,
				ID:        refrID,
				CachePath: cachePath,
				Staleness: tc.staleness,
				Timeout:   testTimeout,
				MaxSize:   testMaxSize,
			})
			require.NoError(t, err)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			gotData, err := f.Refresh(ctx, tc.acceptStale)
			if tc.expectReq {
				testutil.RequireReceive(t, reqCh, testTimeout)
			}

			// Since the actual URL is only known within the subtest, replace
			// the placeholder here and check the error message.
			wantErrMsg := strings.ReplaceAll(tc.wantErrMsg, "URL", srvURL.String())

			testutil.AssertErrorMsg(t, wantErrMsg, err)
			assert.Equal(t, tc.wantData, gotData)
		})
	}
}

// prepareCachePath is a helper that either returns a non-existing file (if
// useCacheFile is false) or prepares a cache file with [testTextFile].
func prepareCachePath(t *testing.T, realCachePath string, useCacheFile bool) (cachePath string) {
	t.Helper()

	if !useCacheFile {
		return filepath.Join(t.TempDir(), "does_not_exist")
	}

	err := os.WriteFile(realCachePath, []byte(testTextFile), 0o600)
	require.NoError(t, err)

	return realCachePath
}

func TestRefreshable_Refresh_fileURL(t *testing.T) {
	fltPath := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(fltPath, []byte(testTextFile), 0o600))

	f, err := filter.NewRefreshable(&filter.RefreshableConfig{
		Logger:    slogutil.NewDiscardLogger(),
		URL:       &url.URL{Scheme: "file", Path: fltPath},
		ID:        refrID,
		CachePath: filepath.Join(t.TempDir(), "unused"),
		Staleness: 1 * time.Hour,
		Timeout:   testTimeout,
		MaxSize:   testMaxSize,
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	data, err := f.Refresh(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, []byte(testTextFile), data)
}

func TestNewRefreshable_badScheme(t *testing.T) {
	_, err := filter.NewRefreshable(&filter.RefreshableConfig{
		Logger: slogutil.NewDiscardLogger(),
		URL:    &url.URL{Scheme: "ftp", Host: "ads.example"},
		ID:     refrID,
	})

	testutil.AssertErrorMsg(t, `filter: bad url scheme "ftp"`, err)
}
