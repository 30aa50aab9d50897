package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v8"
	"github.com/quay/zlog"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
)

const deviceColumns = `id, host, platform, version, hardware_model, features,
	status, fail_count, last_discovered, next_attempt, current_scan,
	previous_scan, created_at`

// AddDevice implements datastore.Inventory.
func (s *Store) AddDevice(ctx context.Context, d *netsift.Device) error {
	const query = `
	INSERT INTO device (id, host, platform, version, hardware_model, features,
		status, fail_count, last_discovered, next_attempt, current_scan,
		previous_scan, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.AddDevice")
	if d.ID == "" || d.Host == "" {
		return &netsift.Error{Kind: netsift.ErrBadInput, Message: "device needs an id and a host"}
	}
	err := s.withTx(ctx, "AddDevice", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			d.ID, d.Host, string(d.Platform), d.Version, d.Hardware,
			encodeList(d.Features), string(d.Status), d.FailCount,
			nullTime(d.LastDiscovered), nullTime(d.NextAttempt),
			nullStr(d.CurrentScan), nullStr(d.PreviousScan),
			encodeTime(d.CreatedAt),
		)
		return err
	})
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &netsift.Error{
			Kind:    netsift.ErrBadInput,
			Message: fmt.Sprintf("device host %q already in inventory", d.Host),
			Inner:   err,
		}
	}
	return err
}

// Device implements datastore.Inventory.
func (s *Store) Device(ctx context.Context, id string) (*netsift.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM device WHERE id = ?;`, id)
	d, err := scanDevice(row)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return nil, &netsift.Error{
			Kind:    netsift.ErrNotFound,
			Message: fmt.Sprintf("no device %q", id),
		}
	default:
		return nil, err
	}
	return d, nil
}

// Devices implements datastore.Inventory.
func (s *Store) Devices(ctx context.Context, f datastore.DeviceFilter) ([]*netsift.Device, error) {
	q := goqu.Dialect(vulnDialect).
		Select("id", "host", "platform", "version", "hardware_model",
			"features", "status", "fail_count", "last_discovered",
			"next_attempt", "current_scan", "previous_scan", "created_at").
		From("device")
	var exps []goqu.Expression
	if f.Platform != "" {
		exps = append(exps, goqu.Ex{"platform": string(f.Platform)})
	}
	if f.Status != "" {
		exps = append(exps, goqu.Ex{"status": string(f.Status)})
	}
	query, args, err := q.Where(exps...).Order(goqu.I("host").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building device query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()
	var out []*netsift.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing devices: sql error: %w", err)
	}
	return out, nil
}

// RemoveDevice implements datastore.Inventory.
func (s *Store) RemoveDevice(ctx context.Context, id string) error {
	return s.withTx(ctx, "RemoveDevice", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scan WHERE device_id = ?;`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM device WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &netsift.Error{
				Kind:    netsift.ErrNotFound,
				Message: fmt.Sprintf("no device %q", id),
			}
		}
		return nil
	})
}

// RecordDiscovery implements datastore.Inventory.
func (s *Store) RecordDiscovery(ctx context.Context, d *netsift.Device) error {
	const query = `
	UPDATE device SET
		platform = ?, version = ?, hardware_model = ?, features = ?,
		status = ?, fail_count = ?, last_discovered = ?, next_attempt = ?
	WHERE id = ?;`
	return s.withTx(ctx, "RecordDiscovery", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			string(d.Platform), d.Version, d.Hardware, encodeList(d.Features),
			string(d.Status), d.FailCount, nullTime(d.LastDiscovered),
			nullTime(d.NextAttempt), d.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &netsift.Error{
				Kind:    netsift.ErrNotFound,
				Message: fmt.Sprintf("no device %q", d.ID),
			}
		}
		return nil
	})
}

// AttachScan implements datastore.Inventory.
//
// The new scan becomes current, current becomes previous, and the evicted
// previous scan row is deleted, all in one transaction. Scan writes for a
// device are additionally serialized by the coordinator, so two concurrent
// attaches cannot interleave their rotations.
func (s *Store) AttachScan(ctx context.Context, deviceID string, r *netsift.ScanResult) error {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/sqlite/Store.AttachScan")
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding scan: %w", err)
	}
	return s.withTx(ctx, "AttachScan", func(tx *sql.Tx) error {
		var cur, prev sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT current_scan, previous_scan FROM device WHERE id = ?;`, deviceID).
			Scan(&cur, &prev)
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, sql.ErrNoRows):
			return &netsift.Error{
				Kind:    netsift.ErrNotFound,
				Message: fmt.Sprintf("no device %q", deviceID),
			}
		default:
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scan (id, device_id, body, at) VALUES (?, ?, ?, ?);`,
			r.ID, deviceID, string(body), encodeTime(r.Timestamp),
		); err != nil {
			return fmt.Errorf("storing scan %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE device SET previous_scan = current_scan, current_scan = ? WHERE id = ?;`,
			r.ID, deviceID,
		); err != nil {
			return fmt.Errorf("rotating scans for %s: %w", deviceID, err)
		}
		if prev.Valid && prev.String != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM scan WHERE id = ?;`, prev.String); err != nil {
				return fmt.Errorf("evicting scan %s: %w", prev.String, err)
			}
			zlog.Debug(ctx).
				Str("device", deviceID).
				Str("evicted", prev.String).
				Msg("oldest scan evicted")
		}
		return nil
	})
}

// Scan implements datastore.Inventory.
func (s *Store) Scan(ctx context.Context, id string) (*netsift.ScanResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM scan WHERE id = ?;`, id).Scan(&body)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return nil, &netsift.Error{
			Kind:    netsift.ErrNotFound,
			Message: fmt.Sprintf("no scan %q", id),
		}
	default:
		return nil, fmt.Errorf("loading scan: %w", err)
	}
	var r netsift.ScanResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decoding scan %s: %w", id, err)
	}
	return &r, nil
}

func scanDevice(r rowScanner) (*netsift.Device, error) {
	var (
		d                          netsift.Device
		platform, status, features string
		lastDisc, nextAtt          sql.NullString
		cur, prev                  sql.NullString
		created                    string
	)
	err := r.Scan(
		&d.ID, &d.Host, &platform, &d.Version, &d.Hardware, &features,
		&status, &d.FailCount, &lastDisc, &nextAtt, &cur, &prev, &created,
	)
	if err != nil {
		return nil, err
	}
	d.Platform = netsift.Platform(platform)
	d.Status = netsift.DeviceStatus(status)
	d.Features = decodeList(features)
	if lastDisc.Valid {
		d.LastDiscovered = decodeTime(lastDisc.String)
	}
	if nextAtt.Valid {
		d.NextAttempt = decodeTime(nextAtt.String)
	}
	d.CurrentScan = cur.String
	d.PreviousScan = prev.String
	d.CreatedAt = decodeTime(created)
	return &d, nil
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(t), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
