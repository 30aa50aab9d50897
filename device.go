package netsift

import (
	"strconv"
	"time"
)

// DeviceStatus is the discovery lifecycle state of an inventory device.
type DeviceStatus string

const (
	// StatusPending marks a device that has been imported but never reached.
	StatusPending DeviceStatus = "pending"
	// StatusDiscovered marks a device whose version, hardware, and features
	// have been captured over SSH.
	StatusDiscovered DeviceStatus = "discovered"
	// StatusFailed marks a device whose last discovery attempt failed; it
	// remains on the retry schedule.
	StatusFailed DeviceStatus = "failed"
	// StatusStale marks a device that failed three consecutive discoveries
	// and needs manual intervention.
	StatusStale DeviceStatus = "stale"
)

// ParseDeviceStatus reports the DeviceStatus named by "s", or an error of
// kind ErrBadInput if the name is unknown.
func ParseDeviceStatus(s string) (DeviceStatus, error) {
	switch st := DeviceStatus(s); st {
	case StatusPending, StatusDiscovered, StatusFailed, StatusStale:
		return st, nil
	}
	return "", &Error{Kind: ErrBadInput, Message: "unknown device status " + strconv.Quote(s)}
}

// Device is one inventory entry. Credentials are never part of the record:
// they arrive with a discovery request and die with it.
type Device struct {
	ID       string   `json:"id"`
	Host     string   `json:"host"`
	Platform Platform `json:"platform,omitempty"`
	Version  string   `json:"version,omitempty"`
	Hardware string   `json:"hardware_model,omitempty"`
	Features []string `json:"features,omitempty"`

	Status         DeviceStatus `json:"status"`
	FailCount      int          `json:"fail_count,omitempty"`
	LastDiscovered time.Time    `json:"last_discovered_at,omitzero"`
	NextAttempt    time.Time    `json:"next_attempt_at,omitzero"`

	// CurrentScan and PreviousScan are scan ids; the scan rows live in their
	// own table. A third scan evicts the older of the two.
	CurrentScan  string `json:"last_scan_id,omitempty"`
	PreviousScan string `json:"previous_scan_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// RetrySchedule is the backoff ladder for failed discoveries. The index is
// the number of consecutive failures already recorded.
var RetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// NextRetry reports when a device with "fails" consecutive failures should be
// attempted again, measured from "now".
func NextRetry(now time.Time, fails int) time.Time {
	if fails <= 0 {
		return now
	}
	i := fails - 1
	if i >= len(RetrySchedule) {
		i = len(RetrySchedule) - 1
	}
	return now.Add(RetrySchedule[i])
}
