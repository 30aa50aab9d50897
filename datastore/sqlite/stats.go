package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
)

// DatabaseStats implements datastore.Stats.
func (s *Store) DatabaseStats(ctx context.Context) (*datastore.DatabaseStats, error) {
	st := datastore.DatabaseStats{
		ByPlatform: make(map[netsift.Platform]int64),
		ByKind:     make(map[netsift.VulnKind]int64),
		Collected:  time.Now().UTC(),
	}
	simple := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM vuln;`, &st.Vulnerabilities},
		{`SELECT COUNT(*) FROM vuln_label;`, &st.LabelRows},
		{`SELECT COUNT(*) FROM vuln_version;`, &st.VersionRows},
		{`SELECT COUNT(*) FROM psirt_cache;`, &st.CacheEntries},
		{`SELECT COUNT(*) FROM device;`, &st.Devices},
		{`SELECT COUNT(*) FROM scan;`, &st.Scans},
	}
	for _, q := range simple {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("database stats: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM vuln GROUP BY platform;`)
	if err != nil {
		return nil, fmt.Errorf("database stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var n int64
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		st.ByPlatform[netsift.Platform(p)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	krows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM vuln GROUP BY kind;`)
	if err != nil {
		return nil, fmt.Errorf("database stats: %w", err)
	}
	defer krows.Close()
	for krows.Next() {
		var k string
		var n int64
		if err := krows.Scan(&k, &n); err != nil {
			return nil, err
		}
		st.ByKind[netsift.VulnKind(k)] = n
	}
	if err := krows.Err(); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count;`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_size;`).Scan(&pageSize); err == nil {
			st.SizeBytes = pageCount * pageSize
		}
	}
	return &st, nil
}
