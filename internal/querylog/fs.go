package querylog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/optslog"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/mathutil"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/amberdns/amberdns/internal/adns"
)

// FileSystemConfig is the configuration of the file system query log.
type FileSystemConfig struct {
	// Logger is used for debug logging.  It must not be nil.
	Logger *slog.Logger

	// Metrics is a listener for the sink events.  If nil, [EmptyMetrics] is
	// used.
	Metrics Metrics

	// Path is the path to the log file.  It must not be empty.
	Path string
}

// NewFileSystem creates a new file system query log.  The log is safe for
// concurrent use.  c must not be nil.
func NewFileSystem(c *FileSystemConfig) (l *FileSystem) {
	mtrc := c.Metrics
	if mtrc == nil {
		mtrc = EmptyMetrics{}
	}

	return &FileSystem{
		logger: c.Logger,
		bufferPool: syncutil.NewPool(func() (v *entryBuffer) {
			return &entryBuffer{
				ent: &jsonlEntry{},
				buf: &bytes.Buffer{},
			}
		}),
		metrics: mtrc,
		path:    c.Path,
	}
}

// entryBuffer groups the scratch values reused between writes, so that
// serializing an entry does not allocate.
type entryBuffer struct {
	ent *jsonlEntry
	buf *bytes.Buffer
}

// jsonlEntry is the on-disk JSON representation of a query log entry.
type jsonlEntry struct {
	// RequestID is the base64-encoded ID of the request.
	RequestID string `json:"id"`

	// RemoteIP is the address of the client, omitted in privacy mode.
	RemoteIP string `json:"ip,omitempty"`

	// DomainFQDN is the requested domain name.
	DomainFQDN string `json:"h"`

	// BlockReason is the "list:rule" form of the blocking rule, if any.
	BlockReason string `json:"br,omitempty"`

	// Upstream is the upstream that produced the response, if any.
	Upstream string `json:"u,omitempty"`

	// Timestamp is the Unix millisecond timestamp of the request.
	Timestamp int64 `json:"ts"`

	// Elapsed is the response time in milliseconds.
	Elapsed uint32 `json:"el"`

	// QType is the numeric type of the question.
	QType uint16 `json:"qt"`

	// ResponseCode is the numeric response code.
	ResponseCode uint8 `json:"rc"`

	// Blocked is 1 when the query was blocked.
	Blocked uint8 `json:"b"`

	// Cached is 1 when the response came from the cache.
	Cached uint8 `json:"c"`
}

// FileSystem is the file system implementation of the AmberDNS query log.  It
// appends one JSON object per line.
type FileSystem struct {
	// logger is used for debug logging.
	logger *slog.Logger

	// bufferPool is a pool with [*entryBuffer] instances used to avoid extra
	// allocations when serializing query log items to JSON and writing them.
	bufferPool *syncutil.Pool[entryBuffer]

	// metrics is a listener for the sink events.
	metrics Metrics

	// path is the path to the query log file.
	path string
}

// type check
var _ Interface = (*FileSystem)(nil)

// Write implements the [Interface] interface for *FileSystem.
func (l *FileSystem) Write(ctx context.Context, e *Entry) (err error) {
	optslog.Trace1(ctx, l.logger, "writing file log", "req_id", e.ID)
	defer func() {
		optslog.Trace2(
			ctx,
			l.logger,
			"written file log",
			"req_id", e.ID,
			slogutil.KeyError, err,
		)
	}()

	startTime := time.Now()
	defer func() { l.metrics.ObserveWrite(ctx, time.Since(startTime)) }()

	entBuf := l.bufferPool.Get()
	defer l.bufferPool.Put(entBuf)
	entBuf.buf.Reset()

	var remoteIP string
	if e.RemoteIP.IsValid() {
		remoteIP = e.RemoteIP.String()
	}

	*entBuf.ent = jsonlEntry{
		RequestID:    e.ID.String(),
		RemoteIP:     remoteIP,
		DomainFQDN:   e.DomainFQDN,
		BlockReason:  e.BlockReason,
		Upstream:     e.Upstream,
		Timestamp:    e.Time.UnixMilli(),
		Elapsed:      l.convertElapsed(ctx, e.Elapsed),
		QType:        e.QType,
		ResponseCode: e.ResponseCode,
		Blocked:      mathutil.BoolToNumber[uint8](e.Blocked),
		Cached:       mathutil.BoolToNumber[uint8](e.Cached),
	}

	var f *os.File
	f, err = os.OpenFile(l.path, adns.DefaultWOFlags, adns.DefaultPerm)
	if err != nil {
		return fmt.Errorf("opening query log file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	// Serialize the query log entry to that buffer as a JSON.  Do not write
	// an additional line feed, because Encode already does that.
	err = json.NewEncoder(entBuf.buf).Encode(entBuf.ent)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}

	_, err = entBuf.buf.WriteTo(f)
	if err != nil {
		return fmt.Errorf("writing log entry: %w", err)
	}

	return nil
}

// convertElapsed converts the elapsed duration and writes warnings to the log
// if the value is outside of the allowed limits.
func (l *FileSystem) convertElapsed(ctx context.Context, elapsed time.Duration) (elapsedMs uint32) {
	elapsedMs64 := elapsed.Milliseconds()
	if elapsedMs64 < 0 {
		l.logger.WarnContext(ctx, "elapsed below zero; setting to zero")

		return 0
	}

	const maxElapsedMs = math.MaxUint32
	if elapsedMs64 > maxElapsedMs {
		l.logger.WarnContext(ctx, "elapsed above max uint32; setting to max uint32")

		return maxElapsedMs
	}

	return uint32(elapsedMs64)
}
