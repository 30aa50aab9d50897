package netsift

import (
	"database/sql/driver"
	"fmt"
)

// Severity is the 1-6 defect severity band used by advisory and bug
// publications. Lower is worse.
type Severity int

const (
	Catastrophic Severity = iota + 1
	Severe
	Moderate
	Minor
	Cosmetic
	Enhancement
)

var severityNames = [...]string{
	Catastrophic: "catastrophic",
	Severe:       "severe",
	Moderate:     "moderate",
	Minor:        "minor",
	Cosmetic:     "cosmetic",
	Enhancement:  "enhancement",
}

func (s Severity) String() string {
	if s < Catastrophic || s > Enhancement {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether the severity is inside the published band.
func (s Severity) Valid() bool {
	return s >= Catastrophic && s <= Enhancement
}

// CriticalHigh reports whether the severity belongs in the critical/high
// report group. Severities 1 and 2 do; 3 through 6 are grouped medium/low.
func (s Severity) CriticalHigh() bool {
	return s == Catastrophic || s == Severe
}

func (s Severity) Value() (driver.Value, error) {
	return int64(s), nil
}

func (s *Severity) Scan(i interface{}) error {
	switch v := i.(type) {
	case int64:
		*s = Severity(v)
	case int:
		*s = Severity(v)
	default:
		return fmt.Errorf("unable to scan Severity from type %T", i)
	}
	return nil
}
