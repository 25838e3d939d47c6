// Package omnicube models the SimpliVity OmniCube CLI: the commands the probes
// send to the appliance and the XML records those commands return.
package omnicube

import (
	"fmt"
	"time"
)

// BackupState is the numeric state reported by svt-backup-show.
type BackupState int

const (
	StateUnknown   BackupState = 0
	StateQueued    BackupState = 1
	StateRunning   BackupState = 2
	StateFailed    BackupState = 3
	StateSucceeded BackupState = 4 // "protected" on the appliance
)

func (s BackupState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateSucceeded:
		return "succeeded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NoPolicy is the policy name the appliance reports for a VM without a
// backup policy. The decoder also uses it for an empty <policy/> element.
const NoPolicy = "empty"

// BackupRecord is one <Backup> element.
type BackupRecord struct {
	Host      string
	State     BackupState
	Timestamp int64 // unix seconds
}

// Time returns the record timestamp in loc.
func (r BackupRecord) Time(loc *time.Location) time.Time {
	return time.Unix(r.Timestamp, 0).In(loc)
}

// VMRecord is one <VM> element.
type VMRecord struct {
	PlatformName string
	Policy       string
}
