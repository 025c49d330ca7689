package dnscache

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/dnsmsg"
	"github.com/amberdns/amberdns/internal/remotekv"
	"github.com/miekg/dns"
)

// snapshotKey is the key under which the cache snapshot is stored.  Callers
// are expected to separate several caches by wrapping their storage into a
// [remotekv.KeyNamespace].
const snapshotKey = "snapshot"

// snapshotVersion is the current snapshot format version.  It must be
// incremented on every incompatible change of the format.
const snapshotVersion = 1

// cacheSnapshot is the serialized form of the cache contents.
type cacheSnapshot struct {
	Entries []snapshotEntry `json:"entries"`
	Version int             `json:"version"`
}

// snapshotEntry is the serialized form of a single cache entry.
type snapshotEntry struct {
	Name       string        `json:"name"`
	Packed     []byte        `json:"packed"`
	InsertedAt int64         `json:"inserted_at"`
	ExpiresAt  int64         `json:"expires_at"`
	QType      dnsmsg.RRType `json:"qtype"`
	Negative   bool          `json:"negative"`
}

// SnapshotterConfig is the configuration structure for [NewSnapshotter].
type SnapshotterConfig struct {
	// Logger is used for logging the operation of the snapshotter.  If nil,
	// [slog.Default] is used.
	Logger *slog.Logger

	// Clock is used to get the current time.  If nil, the system clock is
	// used.
	Clock timeutil.Clock

	// Cache is the cache being persisted.  It must not be nil.
	Cache *Cache

	// KV is the storage the snapshot is saved to.  It must not be nil.
	KV remotekv.Interface
}

// Snapshotter saves the live cache entries to a key-value storage and loads
// them back, so that the cache contents survive a restart.
type Snapshotter struct {
	logger *slog.Logger
	clock  timeutil.Clock
	cache  *Cache
	kv     remotekv.Interface
}

// NewSnapshotter returns a new properly initialized *Snapshotter.  c must not
// be nil.
func NewSnapshotter(c *SnapshotterConfig) (s *Snapshotter) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &Snapshotter{
		logger: cmp.Or(c.Logger, slog.Default()),
		clock:  clock,
		cache:  c.Cache,
		kv:     c.KV,
	}
}

// type check
var _ service.Refresher = (*Snapshotter)(nil)

// Refresh implements the [service.Refresher] interface for *Snapshotter.  It
// writes all revivable cache entries to the storage, replacing the previous
// snapshot.
func (s *Snapshotter) Refresh(ctx context.Context) (err error) {
	c := s.cache
	now := s.clock.Now()

	keys := c.lru.Keys()
	snap := &cacheSnapshot{
		Entries: make([]snapshotEntry, 0, len(keys)),
		Version: snapshotVersion,
	}

	for _, k := range keys {
		ent, ok := c.lru.Get(k)
		if !ok || !c.revivable(ent, now) {
			continue
		}

		var packed []byte
		packed, err = ent.resp.Pack()
		if err != nil {
			s.logger.DebugContext(ctx, "skipping entry", "name", k.name, slogutil.KeyError, err)

			continue
		}

		snap.Entries = append(snap.Entries, snapshotEntry{
			Name:       k.name,
			Packed:     packed,
			InsertedAt: ent.insertedAt.UnixMilli(),
			ExpiresAt:  ent.expiresAt.UnixMilli(),
			QType:      k.qtype,
			Negative:   ent.negative,
		})
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("dnscache: encoding snapshot: %w", err)
	}

	err = s.kv.Set(ctx, snapshotKey, data)
	if err != nil {
		return fmt.Errorf("dnscache: storing snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot stored", "entries", len(snap.Entries))

	return nil
}

// Load restores the previously stored entries, skipping the ones that do not
// parse and the ones expired beyond the serve-stale window.  A missing
// snapshot is not an error.
func (s *Snapshotter) Load(ctx context.Context) (err error) {
	data, ok, err := s.kv.Get(ctx, snapshotKey)
	if err != nil {
		return fmt.Errorf("dnscache: loading snapshot: %w", err)
	} else if !ok {
		return nil
	}

	snap := &cacheSnapshot{}
	err = json.Unmarshal(data, snap)
	if err != nil {
		return fmt.Errorf("dnscache: decoding snapshot: %w", err)
	}

	if snap.Version != snapshotVersion {
		s.logger.WarnContext(
			ctx,
			"dropping snapshot of unsupported version",
			"got", snap.Version,
			"want", snapshotVersion,
		)

		return nil
	}

	now := s.clock.Now()
	var restored int
	for _, se := range snap.Entries {
		if s.restoreEntry(ctx, se, now) {
			restored++
		}
	}

	s.logger.InfoContext(ctx, "snapshot loaded", "entries", len(snap.Entries), "restored", restored)

	return nil
}

// restoreEntry puts a single snapshot entry back into the cache.  ok is false
// when the entry is expired beyond revival or does not parse.
func (s *Snapshotter) restoreEntry(ctx context.Context, se snapshotEntry, now time.Time) (ok bool) {
	c := s.cache
	ent := &entry{
		insertedAt: time.UnixMilli(se.InsertedAt),
		expiresAt:  time.UnixMilli(se.ExpiresAt),
		negative:   se.Negative,
	}

	if !c.revivable(ent, now) {
		return false
	}

	msg := &dns.Msg{}
	err := msg.Unpack(se.Packed)
	if err != nil {
		s.logger.DebugContext(ctx, "skipping bad entry", "name", se.Name, slogutil.KeyError, err)

		return false
	}

	ent.resp = msg
	ent.minTTL = lowestTTL(msg)

	c.lru.Set(newKey(se.Name, se.QType), ent)

	return true
}
