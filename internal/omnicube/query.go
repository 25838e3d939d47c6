package omnicube

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date format of the --since/--until arguments and of -D.
const DateLayout = "2006-01-02"

// Yesterday is the backup date keyword for "the day before today, open ended".
const Yesterday = "yesterday"

// DefaultMaxResults keeps svt-backup-show from truncating the XML reply for
// typical fleet sizes.
const DefaultMaxResults = 10000

// ErrInvalidDate is returned for a backup date that is neither "yesterday"
// nor YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid backup date")

// Tags deleted from the svt-backup-show reply before it is sent back.
// None of them is read by the decoder.
var prunedBackupTags = []string{
	"dcId", "sentSize", "sourceVmDeploymentStatus", "name", "hiveId",
	"consistency", "consistent", "pedigree", "dsId", "expirationTime",
	"logicalSize", "lastTimeSizeCalc", "id", "backupId", "datastore",
	"vmDeleteTime", "percentComp", "vmRemovedTime", "percentTrans",
	"repTaskId", "dsRemoved", "datacenter", "uniqueSize",
}

// Window is the backup time window. A zero Until means open ended.
type Window struct {
	Since time.Time
	Until time.Time
}

// OpenEnded reports whether the window has no upper bound.
func (w Window) OpenEnded() bool {
	return w.Until.IsZero()
}

func (w Window) String() string {
	if w.OpenEnded() {
		return "since " + w.Since.Format(DateLayout)
	}
	return w.Since.Format(DateLayout) + " to " + w.Until.Format(DateLayout)
}

// ResolveWindow turns a -D token into a Window relative to now.
func ResolveWindow(token string, now time.Time) (Window, error) {
	if token == Yesterday {
		y, m, d := now.AddDate(0, 0, -1).Date()
		return Window{Since: time.Date(y, m, d, 0, 0, 0, 0, now.Location())}, nil
	}

	since, err := time.ParseInLocation(DateLayout, token, now.Location())
	if err != nil {
		return Window{}, fmt.Errorf("%w: %q (expected %q or YYYY-MM-DD)", ErrInvalidDate, token, Yesterday)
	}
	return Window{Since: since, Until: since.AddDate(0, 0, 1)}, nil
}

// BackupQuery builds the svt-backup-show command line for window.
func BackupQuery(window Window, maxResults int, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "svt-backup-show --output xml --max-results %d --timeout %d", maxResults, seconds(timeout))
	b.WriteString(" --since " + window.Since.Format(DateLayout))
	if !window.OpenEnded() {
		b.WriteString(" --until " + window.Until.Format(DateLayout))
	}
	b.WriteString(` | sed "/` + pruneExpression() + `/d"`)
	return b.String()
}

// InventoryQuery builds the svt-vm-show command line.
func InventoryQuery(timeout time.Duration) string {
	return fmt.Sprintf("svt-vm-show --timeout %d --output xml", seconds(timeout))
}

func pruneExpression() string {
	alternatives := make([]string, len(prunedBackupTags))
	for i, tag := range prunedBackupTags {
		alternatives[i] = "<" + tag + ">"
	}
	return `\(` + strings.Join(alternatives, `\|`) + `\)`
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
