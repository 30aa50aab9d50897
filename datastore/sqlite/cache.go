package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/netsift/netsift"
)

// CacheEntry implements datastore.Cache.
func (s *Store) CacheEntry(ctx context.Context, advisoryID string, platform netsift.Platform) (*netsift.CacheEntry, error) {
	const query = `
	SELECT advisory_id, platform, labels, confidence, source, needs_review, at
	FROM psirt_cache WHERE advisory_id = ? AND platform = ?;`
	var (
		e           netsift.CacheEntry
		p, src      string
		labels, at  string
		needsReview int
	)
	err := s.db.QueryRowContext(ctx, query, advisoryID, string(platform)).
		Scan(&e.AdvisoryID, &p, &labels, &e.Confidence, &src, &needsReview, &at)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return nil, &netsift.Error{
			Kind:    netsift.ErrNotFound,
			Message: fmt.Sprintf("no cache entry for (%s, %s)", advisoryID, platform),
		}
	default:
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	e.Platform = netsift.Platform(p)
	e.Labels = decodeList(labels)
	e.Source = netsift.ConfidenceSource(src)
	e.NeedsReview = needsReview != 0
	e.Timestamp = decodeTime(at)
	return &e, nil
}

// SetCacheEntry implements datastore.Cache.
func (s *Store) SetCacheEntry(ctx context.Context, e *netsift.CacheEntry) error {
	const query = `
	INSERT INTO psirt_cache (advisory_id, platform, labels, confidence, source, needs_review, at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (advisory_id, platform) DO UPDATE SET
		labels = excluded.labels,
		confidence = excluded.confidence,
		source = excluded.source,
		needs_review = excluded.needs_review,
		at = excluded.at;`
	if e.AdvisoryID == "" {
		return &netsift.Error{Kind: netsift.ErrBadInput, Message: "cache entry missing advisory id"}
	}
	review := 0
	if e.NeedsReview {
		review = 1
	}
	return s.withTx(ctx, "SetCacheEntry", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			e.AdvisoryID, string(e.Platform), encodeList(e.Labels),
			e.Confidence, string(e.Source), review, encodeTime(e.Timestamp),
		)
		return err
	})
}

// InvalidateCache implements datastore.Cache.
func (s *Store) InvalidateCache(ctx context.Context, advisoryIDs []string) (int64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.InvalidateCache")
	if len(advisoryIDs) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.withTx(ctx, "InvalidateCache", func(tx *sql.Tx) error {
		// Reset per attempt so a lock-contention retry replays every chunk.
		removed = 0
		rest := advisoryIDs
		// SQLite caps bound parameters per statement; chunk the id list.
		const chunk = 500
		for len(rest) > 0 {
			n := min(chunk, len(rest))
			ids := rest[:n]
			rest = rest[n:]
			args := make([]interface{}, n)
			for i, id := range ids {
				args[i] = id
			}
			q := `DELETE FROM psirt_cache WHERE advisory_id IN (?` +
				strings.Repeat(", ?", n-1) + `);`
			res, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return err
			}
			c, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += c
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	zlog.Debug(ctx).Int64("removed", removed).Msg("cache entries invalidated")
	return removed, nil
}

// ClearCache implements datastore.Cache.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "ClearCache", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM psirt_cache;`)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// CacheStats implements datastore.Stats.
func (s *Store) CacheStats(ctx context.Context) (int64, time.Time, time.Time, error) {
	const query = `SELECT COUNT(*), COALESCE(MIN(at), ''), COALESCE(MAX(at), '') FROM psirt_cache;`
	var (
		entries        int64
		oldest, newest string
	)
	if err := s.db.QueryRowContext(ctx, query).Scan(&entries, &oldest, &newest); err != nil {
		return 0, time.Time{}, time.Time{}, fmt.Errorf("cache stats: %w", err)
	}
	return entries, decodeTime(oldest), decodeTime(newest), nil
}
