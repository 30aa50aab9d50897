// Package inventory coordinates the device lifecycle: import and ad-hoc
// creation, SSH discovery with failure backoff, scan attachment with
// current→previous rotation, and the comparison reports built over retained
// scans.
//
// Scan attachment and discovery are serialized per device id with a keyed
// lock so the two-deep scan history never interleaves under concurrent
// requests.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
	"github.com/netsift/netsift/locksource"
	"github.com/netsift/netsift/scanner"
	"github.com/netsift/netsift/verifier"
)

// DefaultWorkers bounds concurrent devices in bulk operations.
const DefaultWorkers = 5

// StaleThreshold is how many consecutive discovery failures park a device in
// [netsift.StatusStale].
const StaleThreshold = 3

var (
	discoveryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "inventory",
			Name:      "discoveries_total",
			Help:      "Total number of device discoveries, by outcome.",
		},
		[]string{"outcome"},
	)
	bulkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "inventory",
			Name:      "bulk_duration_seconds",
			Help:      "The duration of bulk operations, end to end.",
		},
		[]string{"op"},
	)
)

// Scanner matches one scan tuple against the catalog.
type Scanner interface {
	Scan(ctx context.Context, req *scanner.Request) (*netsift.ScanResult, error)
}

// Discoverer captures a device's platform, version, hardware, and features
// over SSH.
type Discoverer interface {
	Discover(ctx context.Context, host string, creds verifier.Credentials, hint netsift.Platform) (*verifier.DeviceFacts, error)
}

// Assert the concrete implementations satisfy the collaborator interfaces.
var (
	_ Scanner    = (*scanner.Scanner)(nil)
	_ Discoverer = (*verifier.Verifier)(nil)
)

// Options configures a Coordinator.
type Options struct {
	// Workers bounds concurrent devices in bulk operations. Defaults to
	// DefaultWorkers.
	Workers int
}

// Coordinator owns the device inventory.
type Coordinator struct {
	store datastore.Inventory
	scan  Scanner
	disc  Discoverer
	locks locksource.ContextLock
	opts  Options
}

// New returns a Coordinator over the provided store and collaborators.
func New(store datastore.Inventory, s Scanner, d Discoverer, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Coordinator{
		store: store,
		scan:  s,
		disc:  d,
		locks: &locksource.Local{},
		opts:  opts,
	}
}

// ImportEntry is one device in an import payload.
type ImportEntry struct {
	Host     string           `json:"host"`
	Platform netsift.Platform `json:"platform,omitempty"`
}

// ImportSummary reports what an import changed.
type ImportSummary struct {
	Added   int               `json:"added"`
	Skipped int               `json:"skipped"`
	Devices []*netsift.Device `json:"devices"`
}

// Import creates pending devices from an externally produced device list.
//
// Hosts already present in the inventory are skipped, not errors: imports
// are meant to be re-run as the external source drifts.
func (c *Coordinator) Import(ctx context.Context, entries []ImportEntry) (*ImportSummary, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.Import")
	if len(entries) == 0 {
		return nil, &netsift.Error{Kind: netsift.ErrBadInput, Message: "import payload names no devices"}
	}
	sum := ImportSummary{Devices: []*netsift.Device{}}
	for i := range entries {
		host := strings.TrimSpace(entries[i].Host)
		if host == "" {
			return nil, &netsift.Error{
				Kind:    netsift.ErrBadInput,
				Message: fmt.Sprintf("import entry %d has no host", i),
			}
		}
		var platform netsift.Platform
		if p := entries[i].Platform; p != "" {
			parsed, err := netsift.ParsePlatform(string(p))
			if err != nil {
				return nil, err
			}
			platform = parsed
		}
		d := &netsift.Device{
			ID:        uuid.NewString(),
			Host:      host,
			Platform:  platform,
			Status:    netsift.StatusPending,
			CreatedAt: time.Now().UTC(),
		}
		err := c.store.AddDevice(ctx, d)
		switch {
		case errors.Is(err, nil):
			sum.Added++
			sum.Devices = append(sum.Devices, d)
		case errors.Is(err, netsift.ErrBadInput):
			zlog.Debug(ctx).Str("host", host).Msg("host already in inventory, skipping")
			sum.Skipped++
		default:
			return nil, err
		}
	}
	zlog.Info(ctx).
		Int("added", sum.Added).
		Int("skipped", sum.Skipped).
		Msg("inventory import complete")
	return &sum, nil
}

// Add creates a single pending device.
func (c *Coordinator) Add(ctx context.Context, host string, platform netsift.Platform) (*netsift.Device, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, &netsift.Error{Kind: netsift.ErrBadInput, Message: "host is required"}
	}
	if platform != "" {
		p, err := netsift.ParsePlatform(string(platform))
		if err != nil {
			return nil, err
		}
		platform = p
	}
	d := &netsift.Device{
		ID:        uuid.NewString(),
		Host:      host,
		Platform:  platform,
		Status:    netsift.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.AddDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Device reports one device.
func (c *Coordinator) Device(ctx context.Context, id string) (*netsift.Device, error) {
	return c.store.Device(ctx, id)
}

// Devices lists devices matching the filter.
func (c *Coordinator) Devices(ctx context.Context, f datastore.DeviceFilter) ([]*netsift.Device, error) {
	return c.store.Devices(ctx, f)
}

// Remove deletes a device and its retained scans.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	return c.store.RemoveDevice(ctx, id)
}

// ScanResult reports a retained scan by id.
func (c *Coordinator) ScanResult(ctx context.Context, id string) (*netsift.ScanResult, error) {
	return c.store.Scan(ctx, id)
}

// Discover connects to a device and refreshes its discovered facts.
//
// The record is updated either way: success overwrites platform, version,
// hardware, and features and resets the failure bookkeeping; failure
// advances the retry schedule, parking the device stale after
// StaleThreshold consecutive failures. On failure the updated device is
// returned alongside the error so callers can report both.
func (c *Coordinator) Discover(ctx context.Context, id string, creds verifier.Credentials) (*netsift.Device, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.Discover", "device", id)
	lc, done := c.locks.Lock(ctx, id)
	defer done()
	if err := lc.Err(); err != nil {
		return nil, &netsift.Error{Kind: netsift.ErrTimeout, Inner: err}
	}
	d, err := c.store.Device(lc, id)
	if err != nil {
		return nil, err
	}

	facts, ferr := c.disc.Discover(lc, d.Host, creds, d.Platform)
	now := time.Now().UTC()
	if ferr != nil {
		d.FailCount++
		d.Status = netsift.StatusFailed
		if d.FailCount >= StaleThreshold {
			d.Status = netsift.StatusStale
		}
		d.NextAttempt = netsift.NextRetry(now, d.FailCount)
		discoveryCounter.WithLabelValues(string(d.Status)).Add(1)
		if err := c.store.RecordDiscovery(lc, d); err != nil {
			zlog.Warn(ctx).Err(err).Msg("unable to record discovery failure")
		}
		zlog.Info(ctx).
			Err(ferr).
			Int("fail_count", d.FailCount).
			Str("status", string(d.Status)).
			Time("next_attempt", d.NextAttempt).
			Msg("discovery failed")
		return d, ferr
	}

	d.Platform = facts.Platform
	d.Version = facts.Version
	d.Hardware = facts.Hardware
	d.Features = facts.Snapshot.FeaturesPresent
	if d.Features == nil {
		d.Features = []string{}
	}
	d.Status = netsift.StatusDiscovered
	d.FailCount = 0
	d.LastDiscovered = now
	d.NextAttempt = time.Time{}
	if err := c.store.RecordDiscovery(lc, d); err != nil {
		return nil, err
	}
	discoveryCounter.WithLabelValues(string(netsift.StatusDiscovered)).Add(1)
	return d, nil
}

// ScanDevice scans a device from its discovered tuple and attaches the
// result, rotating current→previous.
func (c *Coordinator) ScanDevice(ctx context.Context, id string) (*netsift.ScanResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.ScanDevice", "device", id)
	lc, done := c.locks.Lock(ctx, id)
	defer done()
	if err := lc.Err(); err != nil {
		return nil, &netsift.Error{Kind: netsift.ErrTimeout, Inner: err}
	}
	d, err := c.store.Device(lc, id)
	if err != nil {
		return nil, err
	}
	if d.Version == "" {
		return nil, &netsift.Error{
			Kind:    netsift.ErrBadInput,
			Message: "device has no discovered version; run discovery first",
		}
	}

	// Device scans are never paginated or severity-filtered: the retained
	// result must be complete for later diffs.
	res, err := c.scan.Scan(lc, &scanner.Request{
		Platform: d.Platform,
		Version:  d.Version,
		Hardware: d.Hardware,
		Features: d.Features,
	})
	if err != nil {
		return nil, err
	}
	res.DeviceID = d.ID
	if err := c.store.AttachScan(lc, d.ID, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ScanComparison is a device's current scan diffed against its previous one.
type ScanComparison struct {
	DeviceID     string            `json:"device_id"`
	CurrentScan  string            `json:"current_scan_id"`
	PreviousScan string            `json:"previous_scan_id"`
	Diff         *netsift.ScanDiff `json:"diff"`
}

// CompareScans diffs a device's two retained scans.
func (c *Coordinator) CompareScans(ctx context.Context, id string) (*ScanComparison, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.CompareScans", "device", id)
	d, err := c.store.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CurrentScan == "" || d.PreviousScan == "" {
		return nil, &netsift.Error{
			Kind:    netsift.ErrBadInput,
			Message: "device needs two retained scans to compare",
		}
	}
	cur, err := c.store.Scan(ctx, d.CurrentScan)
	if err != nil {
		return nil, err
	}
	prev, err := c.store.Scan(ctx, d.PreviousScan)
	if err != nil {
		return nil, err
	}
	return &ScanComparison{
		DeviceID:     d.ID,
		CurrentScan:  cur.ID,
		PreviousScan: prev.ID,
		Diff:         diffScans(prev, cur),
	}, nil
}

// CompareRequest describes a version comparison: the same device tuple
// scanned at two versions.
type CompareRequest struct {
	Platform       netsift.Platform `json:"platform"`
	CurrentVersion string           `json:"current_version"`
	TargetVersion  string           `json:"target_version"`
	Hardware       string           `json:"hardware,omitempty"`
	Features       []string         `json:"features,omitempty"`
}

// Risk weights and grading threshold for version comparisons. A
// catastrophic finding weighs roughly two severe ones.
const (
	riskWeightCritical = 15
	riskWeightHigh     = 8
	riskLowFloor       = 20
)

// CompareVersions scans the same tuple at two versions and grades the move.
//
// The score rewards catastrophic/severe findings the move would fix and
// penalizes ones it would introduce; above riskLowFloor grades LOW, below
// zero HIGH, anything between MEDIUM.
func (c *Coordinator) CompareVersions(ctx context.Context, req *CompareRequest) (*netsift.VersionComparison, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.CompareVersions")
	if req.CurrentVersion == "" || req.TargetVersion == "" {
		return nil, &netsift.Error{
			Kind:    netsift.ErrBadInput,
			Message: "both current_version and target_version are required",
		}
	}
	// Both scans run unpaginated so the diff sees complete result sets.
	cur, err := c.scan.Scan(ctx, &scanner.Request{
		Platform: req.Platform,
		Version:  req.CurrentVersion,
		Hardware: req.Hardware,
		Features: req.Features,
	})
	if err != nil {
		return nil, err
	}
	tgt, err := c.scan.Scan(ctx, &scanner.Request{
		Platform: req.Platform,
		Version:  req.TargetVersion,
		Hardware: req.Hardware,
		Features: req.Features,
	})
	if err != nil {
		return nil, err
	}

	diff := diffScans(cur, tgt)
	score := riskWeightCritical*diff.FixedBySeverity[netsift.Catastrophic] +
		riskWeightHigh*diff.FixedBySeverity[netsift.Severe] -
		riskWeightCritical*diff.NewBySeverity[netsift.Catastrophic] -
		riskWeightHigh*diff.NewBySeverity[netsift.Severe]
	rec := netsift.RiskMedium
	switch {
	case score > riskLowFloor:
		rec = netsift.RiskLow
	case score < 0:
		rec = netsift.RiskHigh
	}
	zlog.Debug(ctx).
		Str("platform", string(cur.Platform)).
		Str("current", cur.Version).
		Str("target", tgt.Version).
		Int("fixed", len(diff.Fixed)).
		Int("new", len(diff.New)).
		Int("score", score).
		Str("recommendation", string(rec)).
		Msg("version comparison complete")
	return &netsift.VersionComparison{
		Platform:       cur.Platform,
		CurrentVersion: cur.Version,
		TargetVersion:  tgt.Version,
		Current:        cur,
		Target:         tgt,
		Diff:           diff,
		RiskScore:      score,
		Recommendation: rec,
	}, nil
}

// BulkItem is one device's outcome inside a bulk operation.
type BulkItem struct {
	DeviceID string               `json:"device_id"`
	Host     string               `json:"host"`
	ScanID   string               `json:"scan_id,omitempty"`
	Status   netsift.DeviceStatus `json:"status,omitempty"`
	Skipped  bool                 `json:"skipped,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// BulkResult aggregates per-device outcomes of a bulk operation.
type BulkResult struct {
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped,omitempty"`
	Items     []BulkItem `json:"items"`
}

// BulkScan scans every device matching the filter with bounded concurrency.
//
// Per-device failures are aggregated, not fatal: the result names each
// device's outcome. Devices without a discovered version fail with an
// explanatory item.
func (c *Coordinator) BulkScan(ctx context.Context, f datastore.DeviceFilter) (*BulkResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.BulkScan")
	defer func(start time.Time) {
		bulkDuration.WithLabelValues("scan").Observe(time.Since(start).Seconds())
	}(time.Now())

	devs, err := c.store.Devices(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make(chan BulkItem, len(devs))
	sem := semaphore.NewWeighted(int64(c.opts.Workers))
	for i := range devs {
		if err := sem.Acquire(ctx, 1); err != nil {
			zlog.Warn(ctx).Err(err).Msg("bulk scan interrupted")
			break
		}
		go func(d *netsift.Device) {
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				return
			}
			item := BulkItem{DeviceID: d.ID, Host: d.Host}
			res, err := c.ScanDevice(ctx, d.ID)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.ScanID = res.ID
			}
			out <- item
		}(devs[i])
	}
	// Unconditionally wait for the in-flight goroutines; they are
	// guaranteed to release their sems.
	sem.Acquire(context.Background(), int64(c.opts.Workers))
	close(out)
	if err := ctx.Err(); err != nil {
		return nil, &netsift.Error{Kind: netsift.ErrTimeout, Inner: context.Cause(ctx)}
	}
	res := collect(len(devs), out)
	zlog.Info(ctx).
		Int("total", res.Total).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("bulk scan complete")
	return res, nil
}

// BulkDiscover runs discovery across every device matching the filter with
// bounded concurrency, sharing one credential set.
//
// Devices whose retry time has not come due are skipped. Per-device
// failures advance each device's own bookkeeping exactly as
// [Coordinator.Discover] does.
func (c *Coordinator) BulkDiscover(ctx context.Context, f datastore.DeviceFilter, creds verifier.Credentials) (*BulkResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inventory/Coordinator.BulkDiscover")
	defer func(start time.Time) {
		bulkDuration.WithLabelValues("discover").Observe(time.Since(start).Seconds())
	}(time.Now())

	devs, err := c.store.Devices(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make(chan BulkItem, len(devs))
	sem := semaphore.NewWeighted(int64(c.opts.Workers))
	now := time.Now()
	for i := range devs {
		if d := devs[i]; !d.NextAttempt.IsZero() && now.Before(d.NextAttempt) {
			zlog.Debug(ctx).
				Str("device", d.ID).
				Time("next_attempt", d.NextAttempt).
				Msg("retry not due, skipping")
			out <- BulkItem{DeviceID: d.ID, Host: d.Host, Status: d.Status, Skipped: true}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			zlog.Warn(ctx).Err(err).Msg("bulk discovery interrupted")
			break
		}
		go func(d *netsift.Device) {
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				return
			}
			item := BulkItem{DeviceID: d.ID, Host: d.Host}
			dev, err := c.Discover(ctx, d.ID, creds)
			if dev != nil {
				item.Status = dev.Status
			}
			if err != nil {
				item.Error = err.Error()
			}
			out <- item
		}(devs[i])
	}
	sem.Acquire(context.Background(), int64(c.opts.Workers))
	close(out)
	if err := ctx.Err(); err != nil {
		return nil, &netsift.Error{Kind: netsift.ErrTimeout, Inner: context.Cause(ctx)}
	}
	res := collect(len(devs), out)
	zlog.Info(ctx).
		Int("total", res.Total).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("bulk discovery complete")
	return res, nil
}

func collect(total int, out <-chan BulkItem) *BulkResult {
	res := BulkResult{Total: total, Items: make([]BulkItem, 0, total)}
	for item := range out {
		switch {
		case item.Error != "":
			res.Failed++
		case item.Skipped:
			res.Skipped++
		default:
			res.Succeeded++
		}
		res.Items = append(res.Items, item)
	}
	sort.Slice(res.Items, func(i, j int) bool { return res.Items[i].Host < res.Items[j].Host })
	return &res
}

// diffScans buckets two results of the same tuple: fixed is what only the
// earlier scan found, new what only the later one found, unchanged what
// both found (reported from the later scan).
func diffScans(earlier, later *netsift.ScanResult) *netsift.ScanDiff {
	diff := netsift.ScanDiff{
		Fixed:           []netsift.ScanItem{},
		New:             []netsift.ScanItem{},
		Unchanged:       []netsift.ScanItem{},
		FixedBySeverity: map[netsift.Severity]int{},
		NewBySeverity:   map[netsift.Severity]int{},
	}
	was := make(map[string]struct{})
	for _, it := range reportItems(earlier) {
		was[it.ID] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, it := range reportItems(later) {
		seen[it.ID] = struct{}{}
		if _, ok := was[it.ID]; ok {
			diff.Unchanged = append(diff.Unchanged, it)
			continue
		}
		diff.New = append(diff.New, it)
		diff.NewBySeverity[it.Severity]++
	}
	for _, it := range reportItems(earlier) {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		diff.Fixed = append(diff.Fixed, it)
		diff.FixedBySeverity[it.Severity]++
	}
	sortItems(diff.Fixed)
	sortItems(diff.New)
	sortItems(diff.Unchanged)
	return &diff
}

// reportItems flattens a result's two report groups. The filtered sample is
// explanation, not findings, and stays out of diffs.
func reportItems(r *netsift.ScanResult) []netsift.ScanItem {
	out := make([]netsift.ScanItem, 0, len(r.CriticalHigh)+len(r.MediumLow))
	out = append(out, r.CriticalHigh...)
	out = append(out, r.MediumLow...)
	return out
}

func sortItems(items []netsift.ScanItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Severity != items[j].Severity {
			return items[i].Severity < items[j].Severity
		}
		return items[i].ID < items[j].ID
	})
}
