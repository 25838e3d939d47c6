// Package backupstatus provides the backup-status probe: it reduces the
// backup records of one window to a single verdict.
package backupstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jandubois/omnicube-probe/internal/omnicube"
	"github.com/jandubois/omnicube-probe/internal/probe"
)

// Name is the probe subcommand name.
const Name = "backup-status"

// Mode selects whether VMs without any backup attempt are failures.
type Mode int

const (
	Standard Mode = iota
	IncludeNotStarted
)

func (m Mode) String() string {
	if m == IncludeNotStarted {
		return "status:notstarted"
	}
	return "status"
}

const (
	MsgAllSuccessful       = "All backups were successful"
	MsgInvalidBackupXML    = "Returned XML data for backup VMs is not valid."
	MsgInvalidInventoryXML = "Returned XML data for all VMs is not valid."

	failedPrefix  = "Backup failed for "
	retriedHeader = "\nHosts with more than one try for successful backup:\n"

	// Status lines longer than lineLength are split for the monitoring host.
	// The split point leaves room for the "CRITICAL - " label of the line.
	lineLength   = 250
	splitLength  = lineLength - len("CRITICAL - ")
	continuation = "...\n..."

	timestampLayout = "2006-01-02 15:04"
)

// Options configure an evaluation.
type Options struct {
	Mode       Mode
	Exclusions omnicube.ExclusionSet
	// Location for failure timestamps; nil means time.Local.
	Location *time.Location
}

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "Check that all OmniCube VM backups of a day succeeded",
		Version:     "1.4.0",
		Modes:       []string{Standard.String(), IncludeNotStarted.String()},
		Arguments: probe.Arguments{
			Required: map[string]probe.ArgumentSpec{
				"hostname": {Type: "string", Description: "IP or hostname of the OmniCube host"},
				"username": {Type: "string", Description: "OmniCube SSH username"},
				"password": {Type: "string", Description: "OmniCube SSH password"},
				"mode": {
					Type:        "string",
					Description: "status, or status:notstarted to also flag VMs without a backup attempt",
					Enum:        []string{Standard.String(), IncludeNotStarted.String()},
				},
			},
			Optional: map[string]probe.ArgumentSpec{
				"backupdate": {
					Type:        "string",
					Description: "yesterday or YYYY-MM-DD",
					Default:     omnicube.Yesterday,
				},
				"exclude": {
					Type:        "string",
					Description: "Comma separated host name fragments skipped by the not-started check",
				},
				"timeout": {
					Type:        "number",
					Description: "SSH and OmniCube command timeout in seconds",
					Default:     float64(45),
				},
				"max-results": {
					Type:        "number",
					Description: "Result cap passed to svt-backup-show",
					Default:     float64(omnicube.DefaultMaxResults),
				},
			},
		},
	}
}

// Run fetches the backups of window (and the VM inventory when opts.Mode is
// IncludeNotStarted) and evaluates them.
func Run(ctx context.Context, client *omnicube.Client, window omnicube.Window, opts Options) *probe.Result {
	records, err := client.Backups(ctx, window)
	if err != nil {
		return failure(err, MsgInvalidBackupXML)
	}

	var inventory []omnicube.VMRecord
	if opts.Mode == IncludeNotStarted {
		inventory, err = client.Inventory(ctx)
		if err != nil {
			return failure(err, MsgInvalidInventoryXML)
		}
	}

	result := Evaluate(records, inventory, opts)
	result.Data["window"] = window.String()
	return result
}

// failure maps a fetch error to an unknown verdict. Decoding errors keep the
// fixed XML messages; transport errors carry their own text.
func failure(err error, invalidXML string) *probe.Result {
	if errors.Is(err, omnicube.ErrMalformedXML) {
		return probe.Unknown(invalidXML, err)
	}
	return probe.Unknown(err.Error(), err)
}

type failedHost struct {
	host  string
	times []string
}

// Evaluate reduces records to a verdict. inventory is required when
// opts.Mode is IncludeNotStarted and ignored otherwise.
//
// A host with at least one succeeded record is never failed; its failed
// attempts are listed as retried instead. A host with only failed records is
// listed once with all its failure times. Lists keep first-appearance order.
func Evaluate(records []omnicube.BackupRecord, inventory []omnicube.VMRecord, opts Options) *probe.Result {
	if opts.Mode == IncludeNotStarted && inventory == nil {
		return probe.Unknown(MsgInvalidInventoryXML, errors.New("VM inventory missing"))
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	succeeded := make(map[string]bool)
	for _, r := range records {
		if r.State == omnicube.StateSucceeded {
			succeeded[r.Host] = true
		}
	}

	var (
		failed      []*failedHost
		failedIndex = make(map[string]*failedHost)
		retried     []string
		retriedSeen = make(map[string]bool)
	)
	for _, r := range records {
		if r.State != omnicube.StateFailed {
			continue
		}
		if succeeded[r.Host] {
			if !retriedSeen[r.Host] {
				retriedSeen[r.Host] = true
				retried = append(retried, r.Host)
			}
			continue
		}
		f, ok := failedIndex[r.Host]
		if !ok {
			f = &failedHost{host: r.Host}
			failedIndex[r.Host] = f
			failed = append(failed, f)
		}
		f.times = append(f.times, r.Time(loc).Format(timestampLayout))
	}

	entries := make([]string, 0, len(failed))
	failedHosts := make([]string, 0, len(failed))
	for _, f := range failed {
		entries = append(entries, fmt.Sprintf("%s (%s)", f.host, strings.Join(f.times, ", ")))
		failedHosts = append(failedHosts, f.host)
	}

	var notStarted []string
	if opts.Mode == IncludeNotStarted {
		started := make(map[string]bool, len(records))
		for _, r := range records {
			started[r.Host] = true
		}
		reported := make(map[string]bool)
		for _, vm := range inventory {
			name := vm.PlatformName
			if opts.Exclusions.Excludes(name) || started[name] || reported[name] {
				continue
			}
			reported[name] = true
			notStarted = append(notStarted, name)
			entries = append(entries, name+" (not started)")
		}
	}

	result := &probe.Result{
		Status: probe.StatusOK,
		Metrics: map[string]any{
			"backup_records":    len(records),
			"failed_hosts":      len(failedHosts),
			"retried_hosts":     len(retried),
			"not_started_hosts": len(notStarted),
		},
		Data: map[string]any{
			"mode":        opts.Mode.String(),
			"failed":      failedHosts,
			"retried":     retried,
			"not_started": notStarted,
		},
	}
	if opts.Mode == IncludeNotStarted {
		result.Metrics["inventory_vms"] = len(inventory)
	}

	if len(entries) == 0 {
		result.Message = MsgAllSuccessful
	} else {
		result.Status = probe.StatusCritical
		result.Message = splitLong(failedPrefix + strings.Join(entries, ", "))
	}
	if len(retried) > 0 {
		result.Message += retriedHeader + strings.Join(retried, ", ")
	}
	return result
}

// splitLong breaks msg after splitLength characters with a continuation
// marker. Removing the marker and the trailing newline restores msg.
func splitLong(msg string) string {
	runes := []rune(msg)
	if len(runes) <= splitLength {
		return msg
	}
	return string(runes[:splitLength]) + continuation + string(runes[splitLength:]) + "\n"
}
