// Package datastore provides the interfaces implemented by netsift's
// persistent stores.
//
// The interfaces are split along consumer lines: the scanner reads through
// Matcher, the offline update channel writes through Updater, the inference
// engine caches through Cache, and the device coordinator owns Inventory.
// A single implementation (datastore/sqlite) backs all of them with one
// on-disk database owned by one process.
package datastore

import (
	"context"
	"time"

	"github.com/netsift/netsift"
)

// Matcher is the query side of the vulnerability catalog.
type Matcher interface {
	// Candidates reports every vulnerability of the platform whose version
	// index intersects the supplied version triple.
	//
	// The index is a coarse superset: callers must re-evaluate each
	// candidate's affected span precisely before reporting a match.
	Candidates(ctx context.Context, platform netsift.Platform, v netsift.Version) ([]*netsift.Vulnerability, error)
	// Vulnerability reports the record with the given identifier, searching
	// both publication kinds. The error is of kind ErrNotFound when no row
	// exists.
	Vulnerability(ctx context.Context, id string) (*netsift.Vulnerability, error)
}

// Updater is the ingest side of the vulnerability catalog.
type Updater interface {
	// UpdateVulnerabilities upserts the provided records keyed by
	// (kind, identifier), atomically rebuilding the label and version index
	// rows for each.
	//
	// The count of stored records is reported. A record that fails
	// validation fails the whole batch.
	UpdateVulnerabilities(ctx context.Context, vulns []*netsift.Vulnerability) (int64, error)
}

// Cache is the persistent inference cache, keyed by (advisory id, platform).
type Cache interface {
	// CacheEntry reports the stored entry, or an ErrNotFound error.
	CacheEntry(ctx context.Context, advisoryID string, platform netsift.Platform) (*netsift.CacheEntry, error)
	// SetCacheEntry stores an entry, replacing any previous one.
	//
	// The write policy (no heuristic results, no low-confidence results)
	// belongs to the inference engine; the store persists what it is given.
	SetCacheEntry(ctx context.Context, e *netsift.CacheEntry) error
	// InvalidateCache removes entries for the named advisories across all
	// platforms, reporting how many rows were removed.
	InvalidateCache(ctx context.Context, advisoryIDs []string) (int64, error)
	// ClearCache removes every entry.
	ClearCache(ctx context.Context) (int64, error)
}

// DeviceFilter narrows an inventory listing. Zero-valued fields do not
// filter.
type DeviceFilter struct {
	Platform netsift.Platform
	Status   netsift.DeviceStatus
}

// Inventory is device lifecycle storage plus the two-deep scan history.
type Inventory interface {
	// AddDevice stores a new device. The error is of kind ErrBadInput when
	// the host is already present.
	AddDevice(ctx context.Context, d *netsift.Device) error
	// Device reports the device with the given id, or an ErrNotFound error.
	Device(ctx context.Context, id string) (*netsift.Device, error)
	// Devices lists devices matching the filter, ordered by host.
	Devices(ctx context.Context, f DeviceFilter) ([]*netsift.Device, error)
	// RemoveDevice deletes a device and its retained scans.
	RemoveDevice(ctx context.Context, id string) error
	// RecordDiscovery overwrites the discovery-owned fields of a device:
	// platform, version, hardware, features, status, failure bookkeeping.
	RecordDiscovery(ctx context.Context, d *netsift.Device) error
	// AttachScan stores a scan result against a device, rotating
	// current→previous and evicting the oldest retained scan.
	AttachScan(ctx context.Context, deviceID string, r *netsift.ScanResult) error
	// Scan reports a retained scan result by id, or an ErrNotFound error.
	Scan(ctx context.Context, id string) (*netsift.ScanResult, error)
}

// DatabaseStats is the admin view of catalog shape and size.
type DatabaseStats struct {
	Vulnerabilities int64                      `json:"vulnerabilities"`
	ByPlatform      map[netsift.Platform]int64 `json:"by_platform"`
	ByKind          map[netsift.VulnKind]int64 `json:"by_kind"`
	LabelRows       int64                      `json:"label_rows"`
	VersionRows     int64                      `json:"version_rows"`
	CacheEntries    int64                      `json:"cache_entries"`
	Devices         int64                      `json:"devices"`
	Scans           int64                      `json:"scans"`
	SizeBytes       int64                      `json:"size_bytes"`
	Collected       time.Time                  `json:"collected_at"`
}

// Stats exposes admin statistics.
type Stats interface {
	DatabaseStats(ctx context.Context) (*DatabaseStats, error)
	// CacheStats reports entry count and the timestamp bounds of the
	// persistent inference cache.
	CacheStats(ctx context.Context) (entries int64, oldest, newest time.Time, err error)
}

// Store aggregates all interface types.
type Store interface {
	Matcher
	Updater
	Cache
	Inventory
	Stats
}
