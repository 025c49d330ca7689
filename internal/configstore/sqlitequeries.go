package configstore

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/querylog"
)

// InsertQuery appends one completed query record.
func (s *SQLite) InsertQuery(ctx context.Context, e *querylog.Entry) (err error) {
	var remoteIP string
	if e.RemoteIP.IsValid() {
		remoteIP = e.RemoteIP.String()
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO queries (request_id, ts, remote_ip, domain, qtype, rcode,
			elapsed_ms, blocked, cached, block_reason, upstream)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.Time.UnixMilli(),
		remoteIP,
		e.DomainFQDN,
		e.QType,
		e.ResponseCode,
		e.Elapsed.Milliseconds(),
		e.Blocked,
		e.Cached,
		e.BlockReason,
		e.Upstream,
	)
	if err != nil {
		return fmt.Errorf("inserting query: %w", err)
	}

	return nil
}

// TopNames returns the names queried at least minCount times since the given
// time, most popular first.
func (s *SQLite) TopNames(
	ctx context.Context,
	since time.Time,
	minCount int,
) (names []string, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT domain FROM queries WHERE ts >= ?
		GROUP BY domain HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC`,
		since.UnixMilli(),
		minCount,
	)
	if err != nil {
		return nil, fmt.Errorf("reading top names: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, fmt.Errorf("scanning top name: %w", err)
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

// DeleteQueriesBefore removes query records older than t and returns the
// number of removed rows.
func (s *SQLite) DeleteQueriesBefore(ctx context.Context, t time.Time) (n int64, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE ts < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("deleting old queries: %w", err)
	}

	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting old queries: %w", err)
	}

	return n, nil
}
