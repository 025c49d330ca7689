package debugsvc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/amberdns/amberdns/internal/adnscache"
	"github.com/amberdns/amberdns/internal/adnshttp"
)

// Well-known identifiers of the caches that can be cleared through the debug
// HTTP API.
const (
	CacheIDDNS             = "dns"
	CacheIDPolicyDecisions = "policy_decisions"
)

// Purger is the subset of the DNS answer cache used by the purge handler.
type Purger interface {
	// Clear drops all cached answers.
	Clear()

	// Remove drops the cached answers for the given domain name and returns
	// the number of entries removed.
	Remove(name string) (removed int)
}

// cacheHandler performs debug purges of the DNS answer cache.
type cacheHandler struct {
	cache Purger
}

// cachePurgeRequest describes the request to the POST /debug/api/cache/purge
// HTTP API.  Names are domain names to purge; a single "*" purges the whole
// cache.
type cachePurgeRequest struct {
	Names []string `json:"names"`
}

// cachePurgeResponse describes the response to the POST
// /debug/api/cache/purge HTTP API.
type cachePurgeResponse struct {
	Results map[string]string `json:"results"`
}

// type check
var _ http.Handler = (*cacheHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *cacheHandler.
func (h *cacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	if h.cache == nil {
		http.Error(w, "cache is disabled", http.StatusConflict)

		return
	}

	req := &cachePurgeRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		l.ErrorContext(ctx, "decoding request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if len(req.Names) == 0 {
		http.Error(w, "no names", http.StatusBadRequest)

		return
	}

	resp := &cachePurgeResponse{
		Results: make(map[string]string, len(req.Names)),
	}

	if len(req.Names) == 1 && req.Names[0] == "*" {
		h.cache.Clear()
		resp.Results["*"] = "ok"
	} else {
		for _, name := range req.Names {
			n := h.cache.Remove(name)
			resp.Results[name] = fmt.Sprintf("removed %d", n)
		}
	}

	w.Header().Set(httphdr.ContentType, adnshttp.HdrValApplicationJSON)
	err = json.NewEncoder(w).Encode(resp)
	if err != nil {
		l.ErrorContext(ctx, "writing response", slogutil.KeyError, err)
	}
}

// cacheClearHandler clears the registered in-memory caches by their well-known
// identifiers.
type cacheClearHandler struct {
	manager *adnscache.DefaultManager
}

// cacheClearRequest describes the request to the POST /debug/api/cache/clear
// HTTP API.  IDs are cache identifiers; a single "*" clears every registered
// cache.
type cacheClearRequest struct {
	IDs []string `json:"ids"`
}

// cacheClearResponse describes the response to the POST
// /debug/api/cache/clear HTTP API.
type cacheClearResponse struct {
	Results map[string]string `json:"results"`
}

// type check
var _ http.Handler = (*cacheClearHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *cacheClearHandler.
func (h *cacheClearHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	req := &cacheClearRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		l.ErrorContext(ctx, "decoding request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if len(req.IDs) == 0 {
		http.Error(w, "no ids", http.StatusBadRequest)

		return
	}

	registered := h.manager.IDs()

	ids := req.IDs
	if len(ids) == 1 && ids[0] == "*" {
		ids = registered
	}

	resp := &cacheClearResponse{
		Results: make(map[string]string, len(ids)),
	}

	for _, id := range ids {
		if !slices.Contains(registered, id) {
			resp.Results[id] = "error: cache not found"

			continue
		}

		h.manager.ClearByID(id)
		resp.Results[id] = "ok"
	}

	w.Header().Set(httphdr.ContentType, adnshttp.HdrValApplicationJSON)
	err = json.NewEncoder(w).Encode(resp)
	if err != nil {
		l.ErrorContext(ctx, "writing response", slogutil.KeyError, err)
	}
}
