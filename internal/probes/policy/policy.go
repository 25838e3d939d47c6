// Package policy provides the policy probe: it lists the VMs that carry a
// given backup policy, or audits the VMs that carry none.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jandubois/omnicube-probe/internal/omnicube"
	"github.com/jandubois/omnicube-probe/internal/probe"
)

// Name is the probe subcommand name.
const Name = "policy"

// ErrMissingPolicyName is returned when no policy name was given.
var ErrMissingPolicyName = errors.New("no policy name given")

const (
	MsgMissingPolicyName = "No policy name given. Please add argument -N"
	MsgInvalidXML        = "Returned XML data is not valid"
	MsgAllConfigured     = "Backup policies for all hosts are configured"
)

// GetDescription returns the probe description.
func GetDescription() probe.Description {
	return probe.Description{
		Name:        Name,
		Description: "List OmniCube VMs with a backup policy, or audit VMs without one",
		Version:     "1.4.0",
		Modes:       []string{"policy"},
		Arguments: probe.Arguments{
			Required: map[string]probe.ArgumentSpec{
				"hostname": {Type: "string", Description: "IP or hostname of the OmniCube host"},
				"username": {Type: "string", Description: "OmniCube SSH username"},
				"password": {Type: "string", Description: "OmniCube SSH password"},
				"mode":     {Type: "string", Description: "Check mode", Enum: []string{"policy"}},
				"policyname": {
					Type:        "string",
					Description: `Backup policy to list, or "empty" to audit VMs without a policy`,
				},
			},
			Optional: map[string]probe.ArgumentSpec{
				"exclude": {
					Type:        "string",
					Description: "Comma separated host name fragments to skip",
				},
				"timeout": {
					Type:        "number",
					Description: "SSH and OmniCube command timeout in seconds",
					Default:     float64(45),
				},
			},
		},
	}
}

// Run fetches the VM inventory and evaluates it against target.
func Run(ctx context.Context, client *omnicube.Client, target string, exclusions omnicube.ExclusionSet) *probe.Result {
	if target == "" {
		return probe.Unknown(MsgMissingPolicyName, ErrMissingPolicyName)
	}

	inventory, err := client.Inventory(ctx)
	if err != nil {
		if errors.Is(err, omnicube.ErrMalformedXML) {
			return probe.Unknown(MsgInvalidXML, err)
		}
		return probe.Unknown(err.Error(), err)
	}
	return Evaluate(inventory, target, exclusions)
}

// Evaluate matches inventory against target. With target "empty" it audits
// VMs without a policy and is critical when any is found; otherwise it lists
// the VMs carrying target and is always OK. Excluded hosts are skipped.
func Evaluate(inventory []omnicube.VMRecord, target string, exclusions omnicube.ExclusionSet) *probe.Result {
	if target == "" {
		return probe.Unknown(MsgMissingPolicyName, ErrMissingPolicyName)
	}

	var matched []string
	for _, vm := range inventory {
		if vm.Policy != target || exclusions.Excludes(vm.PlatformName) {
			continue
		}
		matched = append(matched, vm.PlatformName)
	}

	audit := target == omnicube.NoPolicy
	result := &probe.Result{
		Status: probe.StatusOK,
		Metrics: map[string]any{
			"inventory_vms": len(inventory),
			"matched_hosts": len(matched),
		},
		Data: map[string]any{
			"policy":  target,
			"audit":   audit,
			"matched": matched,
		},
	}

	joined := strings.Join(matched, ", ")
	switch {
	case audit && len(matched) == 0:
		result.Message = MsgAllConfigured
	case audit:
		result.Status = probe.StatusCritical
		result.Message = fmt.Sprintf("Backup policy for %s is missing", joined)
	case len(matched) == 0:
		result.Message = fmt.Sprintf("No hosts found with backup policy \"%s\"", target)
	default:
		result.Message = fmt.Sprintf("Hosts with backup policy \"%s\": %s", target, joined)
	}
	return result
}
