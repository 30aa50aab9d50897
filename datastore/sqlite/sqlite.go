// Package sqlite implements the netsift datastore interfaces over a single
// on-disk SQLite database.
//
// The database is opened in WAL mode with a 5 second busy timeout and
// immediate-lock transactions, so readers and the single writer coexist.
// Every write runs through withTx, which commits on success, rolls back on
// any failure path, and retries lock contention with capped exponential
// backoff. Non-lock errors are never retried.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed" // embed the schema
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
)

//go:embed schema.sql
var schema string

// schemaVersion is recorded in the database's user_version pragma after a
// successful bootstrap.
const schemaVersion = 1

var _ datastore.Store = (*Store)(nil)

// Store is a handle to the on-disk database.
type Store struct {
	db *sql.DB
}

var (
	txCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "tx_total",
			Help:      "Total number of write transactions, by outcome.",
		},
		[]string{"op", "outcome"},
	)
	txRetryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "tx_lock_retries_total",
			Help:      "Total number of write transactions retried after lock contention.",
		},
		[]string{"op"},
	)
	txDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "tx_duration_seconds",
			Help:      "The duration of write transactions.",
		},
		[]string{"op"},
	)
)

// Open opens (creating if necessary) the database at the named path and
// bootstraps the schema.
//
// Must be a file on-disk. The returned Store must have its Close method
// called when no longer needed.
func Open(ctx context.Context, path string) (*Store, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Open")
	u := url.URL{
		Scheme: `file`,
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {
				"journal_mode(WAL)",
				"busy_timeout(5000)",
				"foreign_keys(1)",
				"synchronous(NORMAL)",
			},
			"_txlock": {"immediate"},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	s := Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: bootstrap %q: %w", path, err)
	}
	zlog.Debug(ctx).Str("path", path).Msg("database open")
	return &s, nil
}

// Close releases held resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if v >= schemaVersion {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	zlog.Info(ctx).Int("version", schemaVersion).Msg("schema bootstrapped")
	return nil
}

// lockBackoff is the retry ladder for lock contention, before jitter.
var lockBackoff = [...]time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// withTx runs fn inside a write transaction.
//
// The transaction is committed when fn returns nil and rolled back otherwise.
// "database is locked"-class failures are retried up to len(lockBackoff)
// times with jittered backoff; any other failure is surfaced immediately.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	defer func() {
		txDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()
	var err error
	for attempt := 0; ; attempt++ {
		err = s.tx1(ctx, fn)
		switch {
		case err == nil:
			txCounter.WithLabelValues(op, "commit").Add(1)
			return nil
		case !isLocked(err):
			txCounter.WithLabelValues(op, "rollback").Add(1)
			return err
		case attempt >= len(lockBackoff):
			txCounter.WithLabelValues(op, "contention").Add(1)
			return &netsift.Error{
				Kind:    netsift.ErrTransient,
				Op:      op,
				Message: "lock contention outlasted retries",
				Inner:   err,
			}
		}
		txRetryCounter.WithLabelValues(op).Add(1)
		d := lockBackoff[attempt]
		d += time.Duration(rand.Int63n(int64(d / 2)))
		zlog.Debug(ctx).
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("backoff", d).
			Msg("database locked, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (s *Store) tx1(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isLocked reports whether the error is SQLite lock contention. The driver
// reports these as SQLITE_BUSY or SQLITE_LOCKED result codes in the error
// string.
func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// Times are stored as RFC 3339 text so rows are inspectable with the sqlite3
// shell and independent of driver time handling.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Label and feature sets are stored space-joined: taxonomy identifiers never
// contain whitespace.
func encodeList(ls []string) string {
	return strings.Join(ls, " ")
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
