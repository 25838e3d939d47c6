package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jandubois/omnicube-probe/internal/omnicube"
	"github.com/jandubois/omnicube-probe/internal/probe"
)

var inventory = []omnicube.VMRecord{
	{PlatformName: "vm-web-01", Policy: "gold"},
	{PlatformName: "vm-db-01", Policy: "silver"},
	{PlatformName: "C", Policy: omnicube.NoPolicy},
	{PlatformName: "vm-web-02", Policy: "gold"},
	{PlatformName: "host_restore_01", Policy: omnicube.NoPolicy},
	{PlatformName: "host_restore_02", Policy: "gold"},
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		inventory  []omnicube.VMRecord
		target     string
		exclusions omnicube.ExclusionSet
		status     probe.Status
		message    string
	}{
		{
			name:      "list mode without matches",
			inventory: inventory,
			target:    "platinum",
			status:    probe.StatusOK,
			message:   `No hosts found with backup policy "platinum"`,
		},
		{
			name:      "list mode with matches",
			inventory: inventory,
			target:    "gold",
			status:    probe.StatusOK,
			message:   `Hosts with backup policy "gold": vm-web-01, vm-web-02, host_restore_02`,
		},
		{
			name:       "list mode with exclusions",
			inventory:  inventory,
			target:     "gold",
			exclusions: omnicube.ExclusionSet{"restore"},
			status:     probe.StatusOK,
			message:    `Hosts with backup policy "gold": vm-web-01, vm-web-02`,
		},
		{
			name:      "list mode keeps backslash verbatim",
			inventory: []omnicube.VMRecord{{PlatformName: "vm-dc-01", Policy: `DOMAIN\daily`}},
			target:    `DOMAIN\daily`,
			status:    probe.StatusOK,
			message:   `Hosts with backup policy "DOMAIN\daily": vm-dc-01`,
		},
		{
			name:      "list mode keeps quotes verbatim",
			inventory: inventory,
			target:    `say "hi"`,
			status:    probe.StatusOK,
			message:   `No hosts found with backup policy "say "hi""`,
		},
		{
			name:      "audit mode finds missing policies",
			inventory: inventory,
			target:    omnicube.NoPolicy,
			status:    probe.StatusCritical,
			message:   "Backup policy for C, host_restore_01 is missing",
		},
		{
			name:       "audit mode with exclusions",
			inventory:  inventory,
			target:     omnicube.NoPolicy,
			exclusions: omnicube.ExclusionSet{"restore"},
			status:     probe.StatusCritical,
			message:    "Backup policy for C is missing",
		},
		{
			name:       "audit mode all configured",
			inventory:  inventory,
			target:     omnicube.NoPolicy,
			exclusions: omnicube.ExclusionSet{"restore", "C"},
			status:     probe.StatusOK,
			message:    MsgAllConfigured,
		},
		{
			name:    "audit mode empty inventory",
			target:  omnicube.NoPolicy,
			status:  probe.StatusOK,
			message: MsgAllConfigured,
		},
		{
			name:      "missing policy name",
			inventory: inventory,
			status:    probe.StatusUnknown,
			message:   MsgMissingPolicyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Evaluate(tt.inventory, tt.target, tt.exclusions)
			if result.Status != tt.status {
				t.Errorf("expected status %q, got %q", tt.status, result.Status)
			}
			if result.Message != tt.message {
				t.Errorf("expected %q, got %q", tt.message, result.Message)
			}
		})
	}
}

func TestEvaluateScenarioGold(t *testing.T) {
	result := Evaluate([]omnicube.VMRecord{{PlatformName: "A", Policy: "silver"}}, "gold", nil)
	if result.Status != probe.StatusOK {
		t.Errorf("expected status %q, got %q", probe.StatusOK, result.Status)
	}
	if result.Message != "No hosts found with backup policy \"gold\"" {
		t.Errorf("unexpected message: %q", result.Message)
	}
}

type stubRunner struct {
	out   string
	err   error
	calls int
}

func (s *stubRunner) Run(_ context.Context, command string) (string, error) {
	s.calls++
	if !strings.HasPrefix(command, "svt-vm-show") {
		return "", errors.New("unexpected command " + command)
	}
	return s.out, s.err
}

func TestRun(t *testing.T) {
	runner := &stubRunner{out: `<CommandResult>
<VM><platformName>C</platformName><policy/></VM>
<VM><platformName>D</platformName><policy>gold</policy></VM>
</CommandResult>`}
	client := omnicube.NewClient(runner, 0, 45*time.Second)

	result := Run(context.Background(), client, omnicube.NoPolicy, nil)
	if result.Status != probe.StatusCritical {
		t.Errorf("expected status %q, got %q", probe.StatusCritical, result.Status)
	}
	if result.Message != "Backup policy for C is missing" {
		t.Errorf("unexpected message: %q", result.Message)
	}
}

func TestRunMissingPolicySkipsFetch(t *testing.T) {
	runner := &stubRunner{}
	client := omnicube.NewClient(runner, 0, 45*time.Second)

	result := Run(context.Background(), client, "", nil)
	if result.Status != probe.StatusUnknown {
		t.Errorf("expected status %q, got %q", probe.StatusUnknown, result.Status)
	}
	if runner.calls != 0 {
		t.Errorf("expected no appliance calls, got %d", runner.calls)
	}
}

func TestRunMalformed(t *testing.T) {
	client := omnicube.NewClient(&stubRunner{out: "<CommandResult><VM>"}, 0, 45*time.Second)
	result := Run(context.Background(), client, "gold", nil)
	if result.Status != probe.StatusUnknown {
		t.Errorf("expected status %q, got %q", probe.StatusUnknown, result.Status)
	}
	if result.Message != MsgInvalidXML {
		t.Errorf("unexpected message: %q", result.Message)
	}

	client = omnicube.NewClient(&stubRunner{err: errors.New("appliance session closed")}, 0, 45*time.Second)
	result = Run(context.Background(), client, "gold", nil)
	if result.Status != probe.StatusUnknown {
		t.Errorf("expected status %q, got %q", probe.StatusUnknown, result.Status)
	}
	if !strings.Contains(result.Message, "appliance session closed") {
		t.Errorf("unexpected message: %q", result.Message)
	}
}

func TestGetDescription(t *testing.T) {
	desc := GetDescription()
	if strings.Join(desc.Modes, ",") != "policy" {
		t.Errorf("expected modes %q, got %q", "policy", desc.Modes)
	}
	mode, ok := desc.Arguments.Required["mode"]
	if !ok {
		t.Fatal("expected mode to be a required argument")
	}
	if mode.Default != nil {
		t.Errorf("expected no mode default, got %v", mode.Default)
	}
	if _, ok := desc.Arguments.Required["policyname"]; !ok {
		t.Error("expected policyname to be a required argument")
	}
}
