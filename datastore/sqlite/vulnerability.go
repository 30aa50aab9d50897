package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3" // register the sqlite3 dialect
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/netsift/netsift"
)

var (
	updateVulnerabilitiesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "updatevulnerabilities_total",
			Help:      "Total number of database queries issued in the UpdateVulnerabilities method.",
		},
		[]string{"query"},
	)
	updateVulnerabilitiesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "updatevulnerabilities_duration_seconds",
			Help:      "The duration of all queries issued in the UpdateVulnerabilities method.",
		},
		[]string{"query"},
	)
	candidatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "candidates_total",
			Help:      "Total number of candidate queries issued.",
		},
		[]string{"platform"},
	)
	candidatesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "datastore",
			Name:      "candidates_duration_seconds",
			Help:      "The duration of candidate queries.",
		},
		[]string{"platform"},
	)
)

const vulnDialect = "sqlite3"

var vulnColumns = []interface{}{
	"v.kind", "v.id", "v.platform", "v.severity", "v.headline", "v.summary",
	"v.link", "v.status", "v.hardware_model", "v.affected_raw", "v.pattern",
	"v.ver_min", "v.ver_max", "v.explicit_vers", "v.fixed_in", "v.labels",
	"v.labels_source", "v.last_modified",
}

// UpdateVulnerabilities implements datastore.Updater.
//
// Each record is replaced wholesale under its (kind, identifier) key and its
// label and version index rows are rebuilt inside the same transaction, so a
// reader sees either the old complete record or the new one.
func (s *Store) UpdateVulnerabilities(ctx context.Context, vulns []*netsift.Vulnerability) (int64, error) {
	const (
		upsert = `
		INSERT INTO vuln (
			kind, id, platform, severity, headline, summary, link, status,
			hardware_model, affected_raw, pattern, ver_min, ver_max,
			explicit_vers, fixed_in, labels, labels_source, last_modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			platform = excluded.platform,
			severity = excluded.severity,
			headline = excluded.headline,
			summary = excluded.summary,
			link = excluded.link,
			status = excluded.status,
			hardware_model = excluded.hardware_model,
			affected_raw = excluded.affected_raw,
			pattern = excluded.pattern,
			ver_min = excluded.ver_min,
			ver_max = excluded.ver_max,
			explicit_vers = excluded.explicit_vers,
			fixed_in = excluded.fixed_in,
			labels = excluded.labels,
			labels_source = excluded.labels_source,
			last_modified = excluded.last_modified;`
		dropLabels    = `DELETE FROM vuln_label WHERE kind = ? AND id = ?;`
		insertLabel   = `INSERT INTO vuln_label (kind, id, label) VALUES (?, ?, ?);`
		dropVersions  = `DELETE FROM vuln_version WHERE kind = ? AND id = ?;`
		insertVersion = `INSERT OR IGNORE INTO vuln_version (kind, id, major, minor, patch) VALUES (?, ?, ?, ?, ?);`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.UpdateVulnerabilities")
	for _, v := range vulns {
		if err := v.Validate(); err != nil {
			return 0, err
		}
	}

	start := time.Now()
	var stored int64
	err := s.withTx(ctx, "UpdateVulnerabilities", func(tx *sql.Tx) error {
		stored = 0
		stmts := make(map[string]*sql.Stmt, 5)
		for _, q := range []string{upsert, dropLabels, insertLabel, dropVersions, insertVersion} {
			stmt, err := tx.PrepareContext(ctx, q)
			if err != nil {
				return fmt.Errorf("preparing statement: %w", err)
			}
			defer stmt.Close()
			stmts[q] = stmt
		}
		for _, v := range vulns {
			var vmin, vmax, expl, fixed sql.NullString
			if v.Affected.Min != nil {
				vmin = sql.NullString{String: v.Affected.Min.String(), Valid: true}
			}
			if v.Affected.Max != nil {
				vmax = sql.NullString{String: v.Affected.Max.String(), Valid: true}
			}
			if len(v.Affected.Explicit) > 0 {
				ls := make([]string, len(v.Affected.Explicit))
				for i, e := range v.Affected.Explicit {
					ls[i] = e.String()
				}
				expl = sql.NullString{String: encodeList(ls), Valid: true}
			}
			if v.Affected.FixedIn != nil {
				fixed = sql.NullString{String: v.Affected.FixedIn.String(), Valid: true}
			}
			if _, err := stmts[upsert].ExecContext(ctx,
				string(v.Kind), v.ID, string(v.Platform), int(v.Severity),
				v.Headline, v.Summary, v.Link, v.Status, v.HardwareModel,
				v.Affected.Raw, v.Affected.Pattern.String(), vmin, vmax, expl,
				fixed, encodeList(v.Labels), string(v.LabelsSource),
				encodeTime(v.LastModified),
			); err != nil {
				return fmt.Errorf("upserting %s: %w", v.ID, err)
			}
			updateVulnerabilitiesCounter.WithLabelValues("upsert").Add(1)

			if _, err := stmts[dropLabels].ExecContext(ctx, string(v.Kind), v.ID); err != nil {
				return fmt.Errorf("clearing label index for %s: %w", v.ID, err)
			}
			for _, l := range v.Labels {
				if _, err := stmts[insertLabel].ExecContext(ctx, string(v.Kind), v.ID, l); err != nil {
					return fmt.Errorf("indexing label %q for %s: %w", l, v.ID, err)
				}
			}
			updateVulnerabilitiesCounter.WithLabelValues("labels").Add(1)

			if _, err := stmts[dropVersions].ExecContext(ctx, string(v.Kind), v.ID); err != nil {
				return fmt.Errorf("clearing version index for %s: %w", v.ID, err)
			}
			for _, t := range v.Affected.IndexTuples() {
				if _, err := stmts[insertVersion].ExecContext(ctx, string(v.Kind), v.ID, t[0], t[1], t[2]); err != nil {
					return fmt.Errorf("indexing version cover for %s: %w", v.ID, err)
				}
			}
			updateVulnerabilitiesCounter.WithLabelValues("versions").Add(1)
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	updateVulnerabilitiesDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	zlog.Debug(ctx).
		Int64("stored", stored).
		Msg("vulnerabilities upserted")
	return stored, nil
}

// Candidates implements datastore.Matcher.
//
// The query joins the version index on the device triple, treating -1 rows
// as wildcards. The result is a coarse superset; the scanner re-evaluates
// every row precisely.
func (s *Store) Candidates(ctx context.Context, platform netsift.Platform, v netsift.Version) ([]*netsift.Vulnerability, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.Candidates")
	query, args, err := buildCandidatesQuery(platform, v)
	if err != nil {
		return nil, fmt.Errorf("building candidates query: %w", err)
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()
	var out []*netsift.Vulnerability
	for rows.Next() {
		vuln, err := scanVuln(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vuln)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidates: sql error: %w", err)
	}
	candidatesCounter.WithLabelValues(string(platform)).Add(1)
	candidatesDuration.WithLabelValues(string(platform)).Observe(time.Since(start).Seconds())
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("platform", string(platform)),
		attribute.Int("candidates", len(out)),
	)
	zlog.Debug(ctx).
		Str("platform", string(platform)).
		Str("version", v.String()).
		Int("candidates", len(out)).
		Msg("candidate query complete")
	return out, nil
}

func buildCandidatesQuery(platform netsift.Platform, v netsift.Version) (string, []interface{}, error) {
	d := goqu.Dialect(vulnDialect)
	q := d.Select(vulnColumns...).Distinct().
		From(goqu.T("vuln").As("v")).
		Join(
			goqu.T("vuln_version").As("vv"),
			goqu.On(
				goqu.I("v.kind").Eq(goqu.I("vv.kind")),
				goqu.I("v.id").Eq(goqu.I("vv.id")),
			),
		).
		Where(
			goqu.I("v.platform").Eq(string(platform)),
			goqu.Or(goqu.I("vv.major").Eq(v.Major), goqu.I("vv.major").Eq(-1)),
			goqu.Or(goqu.I("vv.minor").Eq(v.Minor), goqu.I("vv.minor").Eq(-1)),
			goqu.Or(goqu.I("vv.patch").Eq(v.Patch), goqu.I("vv.patch").Eq(-1)),
		).
		Order(goqu.I("v.severity").Asc(), goqu.I("v.id").Asc())
	return q.Prepared(true).ToSQL()
}

// Vulnerability implements datastore.Matcher.
func (s *Store) Vulnerability(ctx context.Context, id string) (*netsift.Vulnerability, error) {
	const query = `
	SELECT kind, id, platform, severity, headline, summary, link, status,
		hardware_model, affected_raw, pattern, ver_min, ver_max,
		explicit_vers, fixed_in, labels, labels_source, last_modified
	FROM vuln WHERE id = ? LIMIT 1;`
	row := s.db.QueryRowContext(ctx, query, id)
	v, err := scanVuln(row)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return nil, &netsift.Error{
			Kind:    netsift.ErrNotFound,
			Message: fmt.Sprintf("no vulnerability %q", id),
		}
	default:
		return nil, err
	}
	return v, nil
}

// rowScanner lets scanVuln serve both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVuln(r rowScanner) (*netsift.Vulnerability, error) {
	var (
		v                      netsift.Vulnerability
		kind, platform, source string
		severity               int
		pattern                string
		vmin, vmax, expl, fix  sql.NullString
		labels, modified       string
	)
	err := r.Scan(
		&kind, &v.ID, &platform, &severity, &v.Headline, &v.Summary, &v.Link,
		&v.Status, &v.HardwareModel, &v.Affected.Raw, &pattern, &vmin, &vmax,
		&expl, &fix, &labels, &source, &modified,
	)
	if err != nil {
		return nil, err
	}
	v.Kind = netsift.VulnKind(kind)
	v.Platform = netsift.Platform(platform)
	v.Severity = netsift.Severity(severity)
	v.Labels = decodeList(labels)
	v.LabelsSource = netsift.LabelSource(source)
	v.LastModified = decodeTime(modified)
	v.Affected.Pattern = netsift.ParsePattern(pattern)
	if vmin.Valid {
		p, err := netsift.ParseVersion(vmin.String)
		if err != nil {
			return nil, fmt.Errorf("row %s: bad stored min %q: %w", v.ID, vmin.String, err)
		}
		v.Affected.Min = &p
	}
	if vmax.Valid {
		p, err := netsift.ParseVersion(vmax.String)
		if err != nil {
			return nil, fmt.Errorf("row %s: bad stored max %q: %w", v.ID, vmax.String, err)
		}
		v.Affected.Max = &p
	}
	if fix.Valid {
		p, err := netsift.ParseVersion(fix.String)
		if err != nil {
			return nil, fmt.Errorf("row %s: bad stored fix %q: %w", v.ID, fix.String, err)
		}
		v.Affected.FixedIn = &p
	}
	if expl.Valid {
		for _, f := range decodeList(expl.String) {
			p, err := netsift.ParseVersion(f)
			if err != nil {
				return nil, fmt.Errorf("row %s: bad stored explicit %q: %w", v.ID, f, err)
			}
			v.Affected.Explicit = append(v.Affected.Explicit, p)
		}
	}
	return &v, nil
}
