package debugsvc

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adnshttp"
)

// DNS listener names reported by the health endpoint.
const (
	ServerUDP = "udp"
	ServerTCP = "tcp"
	ServerDoT = "dot"
	ServerDoH = "doh"
)

// ServerHealth is the state of one DNS listener.
type ServerHealth struct {
	Enabled bool
	Up      bool
}

// Status is a snapshot of the health data of the resolver.
type Status struct {
	// Servers maps listener names, such as [ServerUDP], to their states.
	Servers map[string]ServerHealth

	// Uptime is the time since the service started.
	Uptime time.Duration

	// Queries is the total number of DNS queries served so far.
	Queries uint64

	// Errors is the number of queries that ended with a server failure.
	Errors uint64
}

// StatusSource provides the current health data of the DNS service.
type StatusSource interface {
	Status() (st *Status)
}

// Overall health statuses.  The resolver is degraded when more than one
// percent of queries fail or any enabled listener is down, and unhealthy when
// more than five percent fail or the plain-UDP listener is down.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Error-rate thresholds for the health statuses.
const (
	degradedErrorRate  = 0.01
	unhealthyErrorRate = 0.05
)

// healthHandler serves the GET /health endpoint.
type healthHandler struct {
	status StatusSource
}

// healthResponse describes the response of the GET /health HTTP API.
type healthResponse struct {
	Status    string            `json:"status"`
	Servers   map[string]string `json:"servers"`
	UptimeMs  int64             `json:"uptimeMs"`
	QPS       float64           `json:"qps"`
	ErrorRate float64           `json:"errorRate"`
}

// type check
var _ http.Handler = (*healthHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *healthHandler.
func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	resp := newHealthResponse(st)

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set(httphdr.ContentType, adnshttp.HdrValApplicationJSON)
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		ctx := r.Context()
		l := slogutil.MustLoggerFromContext(ctx)
		l.DebugContext(ctx, "writing health response", slogutil.KeyError, err)
	}
}

// newHealthResponse derives the overall health status from the snapshot.
func newHealthResponse(st *Status) (resp *healthResponse) {
	resp = &healthResponse{
		Status:   StatusOK,
		Servers:  make(map[string]string, len(st.Servers)),
		UptimeMs: st.Uptime.Milliseconds(),
	}

	if secs := st.Uptime.Seconds(); secs > 0 {
		resp.QPS = float64(st.Queries) / secs
	}

	if st.Queries > 0 {
		resp.ErrorRate = float64(st.Errors) / float64(st.Queries)
	}

	for name, srv := range st.Servers {
		switch {
		case !srv.Enabled:
			resp.Servers[name] = "disabled"
		case srv.Up:
			resp.Servers[name] = "up"
		default:
			resp.Servers[name] = "down"

			if name == ServerUDP {
				resp.Status = StatusUnhealthy
			} else if resp.Status == StatusOK {
				resp.Status = StatusDegraded
			}
		}
	}

	switch {
	case resp.ErrorRate > unhealthyErrorRate:
		resp.Status = StatusUnhealthy
	case resp.ErrorRate > degradedErrorRate && resp.Status == StatusOK:
		resp.Status = StatusDegraded
	}

	return resp
}

// Tracker accumulates the health data of a running resolver.  It is safe for
// concurrent use.
type Tracker struct {
	clock   timeutil.Clock
	start   time.Time
	queries atomic.Uint64
	errors  atomic.Uint64

	// mu protects servers.
	mu      *sync.Mutex
	servers map[string]ServerHealth
}

// NewTracker returns a new properly initialized *Tracker.  enabled lists the
// names of the DNS listeners that are configured to run; the rest are
// reported as disabled.
func NewTracker(clock timeutil.Clock, enabled []string) (t *Tracker) {
	servers := map[string]ServerHealth{
		ServerUDP: {},
		ServerTCP: {},
		ServerDoT: {},
		ServerDoH: {},
	}
	for _, name := range enabled {
		servers[name] = ServerHealth{Enabled: true}
	}

	return &Tracker{
		clock:   clock,
		start:   clock.Now(),
		mu:      &sync.Mutex{},
		servers: servers,
	}
}

// type check
var _ StatusSource = (*Tracker)(nil)

// OnQuery records one served query.  isErr reports whether the query ended
// with a server failure.
func (t *Tracker) OnQuery(isErr bool) {
	t.queries.Add(1)
	if isErr {
		t.errors.Add(1)
	}
}

// SetServerUp records a change of the listener state.
func (t *Tracker) SetServerUp(name string, up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	srv := t.servers[name]
	srv.Up = up
	t.servers[name] = srv
}

// Status implements the [StatusSource] interface for *Tracker.
func (t *Tracker) Status() (st *Status) {
	st = &Status{
		Servers: make(map[string]ServerHealth, len(t.servers)),
		Uptime:  t.clock.Now().Sub(t.start),
		Queries: t.queries.Load(),
		Errors:  t.errors.Load(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for name, srv := range t.servers {
		st.Servers[name] = srv
	}

	return st
}
