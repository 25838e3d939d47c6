package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/omnicube-probe/internal/capture"
	"github.com/jandubois/omnicube-probe/internal/config"
	"github.com/jandubois/omnicube-probe/internal/logger"
	"github.com/jandubois/omnicube-probe/internal/omnicube"
	"github.com/jandubois/omnicube-probe/internal/probe"
	"github.com/jandubois/omnicube-probe/internal/probes"
	"github.com/jandubois/omnicube-probe/internal/probes/backupstatus"
	"github.com/jandubois/omnicube-probe/internal/probes/policy"
)

const failedBackupXML = `<CommandResult>
<Backup><state>3</state><hiveName>A</hiveName><timestamp>1792360800</timestamp></Backup>
<Backup><state>4</state><hiveName>B</hiveName><timestamp>1792360800</timestamp></Backup>
</CommandResult>`

const inventoryXML = `<CommandResult>
<VM><platformName>A</platformName><policy>gold</policy></VM>
<VM><platformName>B</platformName><policy>gold</policy></VM>
<VM><platformName>C</platformName><policy>gold</policy></VM>
<VM><platformName>D</platformName><policy/></VM>
</CommandResult>`

// 2026-10-19 08:00 UTC
var testNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fakeAppliance struct {
	replies  map[string]string
	dialErr  error
	dialed   bool
	commands []string
	closed   bool
}

func (f *fakeAppliance) Run(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	reply, ok := f.replies[capture.KindOf(command)]
	if !ok {
		return "", errors.New("unexpected command " + command)
	}
	return reply, nil
}

func (f *fakeAppliance) Close() error {
	f.closed = true
	return nil
}

func (f *fakeAppliance) dial(context.Context, *config.Config, logger.Logger) (applianceRunner, error) {
	f.dialed = true
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f, nil
}

func newAppliance() *fakeAppliance {
	return &fakeAppliance{replies: map[string]string{
		capture.KindBackups:   failedBackupXML,
		capture.KindInventory: inventoryXML,
	}}
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Appliance.Hostname = "cube01"
	cfg.Appliance.Username = "admin"
	cfg.Appliance.Password = "secret"
	cfg.Check.Mode = mode
	cfg.Check.Timezone = "UTC"
	return cfg
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in     string
		check  string
		status backupstatus.Mode
		policy bool
		err    bool
	}{
		{in: "status", check: backupstatus.Name, status: backupstatus.Standard},
		{in: "status:notstarted", check: backupstatus.Name, status: backupstatus.IncludeNotStarted},
		{in: "policy", check: policy.Name, policy: true},
		{in: "", err: true},
		{in: "Status", err: true},
		{in: "status:all", err: true},
	}
	for _, tt := range tests {
		mode, err := parseMode(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidMode) {
				t.Errorf("%q: expected ErrInvalidMode, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if mode.check != tt.check || mode.status != tt.status || mode.policy != tt.policy {
			t.Errorf("%q: unexpected mode %+v", tt.in, mode)
		}
	}
}

func TestDescribedModesSelectTheirCheck(t *testing.T) {
	for _, desc := range probes.GetAllDescriptions() {
		if len(desc.Modes) == 0 {
			t.Errorf("%s: no modes described", desc.Name)
		}
		for _, m := range desc.Modes {
			mode, err := parseMode(m)
			if err != nil {
				t.Errorf("%s: described mode %q is rejected: %v", desc.Name, m, err)
				continue
			}
			if mode.check != desc.Name {
				t.Errorf("mode %q selects %q, described under %q", m, mode.check, desc.Name)
			}
		}
		if arg, ok := desc.Arguments.Required["mode"]; !ok || arg.Default != nil {
			t.Errorf("%s: mode must be required without default", desc.Name)
		}
	}
}

func TestRunCheckInputErrorsSkipConnection(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		message string
	}{
		{
			name:    "no mode",
			mutate:  func(c *config.Config) { c.Check.Mode = "" },
			message: MsgSelectMode,
		},
		{
			name:    "unknown mode",
			mutate:  func(c *config.Config) { c.Check.Mode = "backups" },
			message: MsgSelectMode,
		},
		{
			name:    "invalid date",
			mutate:  func(c *config.Config) { c.Check.BackupDate = "18.10.2026" },
			message: `Invalid backup date "18.10.2026". Please use YYYY-MM-DD or yesterday`,
		},
		{
			name:    "policy without name",
			mutate:  func(c *config.Config) { c.Check.Mode = "policy" },
			message: policy.MsgMissingPolicyName,
		},
		{
			name:    "missing password",
			mutate:  func(c *config.Config) { c.Appliance.Password = "" },
			message: "configuration validation failed: missing password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "status")
			tt.mutate(cfg)
			appliance := newAppliance()

			_, result := runCheck(context.Background(), cfg, logger.Nop(), appliance.dial, true, testNow)
			assert.Equal(t, probe.StatusUnknown, result.Status)
			assert.Equal(t, tt.message, result.Message)
			assert.False(t, appliance.dialed)
		})
	}
}

func TestRunCheckConnectionFailure(t *testing.T) {
	appliance := newAppliance()
	appliance.dialErr = errors.New("ssh: unable to authenticate")

	_, result := runCheck(context.Background(), testConfig(t, "status"), logger.Nop(), appliance.dial, true, testNow)
	assert.Equal(t, probe.StatusUnknown, result.Status)
	assert.Equal(t, "SSH login to cube01 failed: ssh: unable to authenticate", result.Message)
}

func TestRunCheckStatus(t *testing.T) {
	cfg := testConfig(t, "status")
	cfg.Check.BackupDate = "2026-10-18"
	appliance := newAppliance()

	mode, result := runCheck(context.Background(), cfg, logger.Nop(), appliance.dial, true, testNow)
	assert.Equal(t, "status", mode.name)
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.Equal(t, "Backup failed for A (2026-10-18 22:00)", result.Message)

	require.Len(t, appliance.commands, 1)
	assert.Contains(t, appliance.commands[0], "--since 2026-10-18 --until 2026-10-19")
	assert.True(t, appliance.closed)
}

func TestRunCheckYesterdayIsOpenEnded(t *testing.T) {
	appliance := newAppliance()

	runCheck(context.Background(), testConfig(t, "status"), logger.Nop(), appliance.dial, true, testNow)
	require.Len(t, appliance.commands, 1)
	assert.Contains(t, appliance.commands[0], "--since 2026-10-18")
	assert.NotContains(t, appliance.commands[0], "--until")
}

func TestRunCheckNotStarted(t *testing.T) {
	cfg := testConfig(t, "status:notstarted")
	cfg.Check.Exclude = "D"
	appliance := newAppliance()

	_, result := runCheck(context.Background(), cfg, logger.Nop(), appliance.dial, true, testNow)
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.True(t, strings.HasPrefix(result.Message, "Backup failed for A (2026-10-18 22:00)"), result.Message)
	assert.Contains(t, result.Message, "C")
	assert.Len(t, appliance.commands, 2)
}

func TestRunCheckPolicy(t *testing.T) {
	cfg := testConfig(t, "policy")
	cfg.Check.PolicyName = omnicube.NoPolicy
	appliance := newAppliance()

	mode, result := runCheck(context.Background(), cfg, logger.Nop(), appliance.dial, true, testNow)
	assert.Equal(t, policy.Name, mode.check)
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.Equal(t, "Backup policy for D is missing", result.Message)
	require.Len(t, appliance.commands, 1)
	assert.True(t, strings.HasPrefix(appliance.commands[0], "svt-vm-show"))
}

func TestRunCheckDumpDir(t *testing.T) {
	cfg := testConfig(t, "status")
	cfg.Output.DumpDir = t.TempDir()
	appliance := newAppliance()

	runCheck(context.Background(), cfg, logger.Nop(), appliance.dial, true, testNow)

	raw, err := capture.Load(filepath.Join(cfg.Output.DumpDir, "backups.xml.zst"))
	require.NoError(t, err)
	assert.Equal(t, failedBackupXML, raw)
}

func TestRunCheckVaultCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/omnicube" || r.Header.Get("X-Vault-Token") != "tok" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"username": "svc", "password": "from-vault"},
		})
	}))
	defer srv.Close()

	cfg := testConfig(t, "status")
	cfg.Appliance.Username = ""
	cfg.Appliance.Password = ""
	cfg.Vault.Address = srv.URL
	cfg.Vault.Token = "tok"
	cfg.Vault.SecretPath = "secret/omnicube"

	var gotUser, gotPassword string
	dial := func(ctx context.Context, c *config.Config, log logger.Logger) (applianceRunner, error) {
		gotUser, gotPassword = c.Appliance.Username, c.Appliance.Password
		return newAppliance(), nil
	}

	_, result := runCheck(context.Background(), cfg, logger.Nop(), dial, true, testNow)
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.Equal(t, "svc", gotUser)
	assert.Equal(t, "from-vault", gotPassword)
}

func TestReport(t *testing.T) {
	tests := []struct {
		status probe.Status
		code   int
	}{
		{probe.StatusOK, probe.ExitOK},
		{probe.StatusWarning, probe.ExitWarning},
		{probe.StatusCritical, probe.ExitCritical},
		{probe.StatusUnknown, probe.ExitUnknown},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		err := report(&buf, &probe.Result{Status: tt.status, Message: "msg"}, probe.FormatNagios, false)
		if tt.code == probe.ExitOK {
			assert.NoError(t, err)
		} else {
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, tt.code, exitErr.Code)
		}
		assert.Equal(t, tt.status.Label()+" - msg\n", buf.String())
	}
}

func TestExportMetricsTextfile(t *testing.T) {
	cfg := testConfig(t, "status")
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "omnicube.prom")
	result := &probe.Result{Status: probe.StatusCritical, Metrics: map[string]any{"failed_hosts": 1}}

	export(context.Background(), cfg, logger.Nop(), checkMode{name: "status", check: backupstatus.Name}, result, time.Second, testNow)

	content, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `omnicube_backup_failed_hosts{appliance="cube01",mode="status"} 1`)
}

func TestExecuteReplay(t *testing.T) {
	dir := t.TempDir()
	backups, err := capture.Write(dir, capture.KindBackups, failedBackupXML)
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"replay", "-M", "status", "-D", "2026-10-18", "--timezone", "UTC", "--backups", backups})
	defer rootCmd.SetArgs(nil)

	code := Execute()
	assert.Equal(t, probe.ExitCritical, code)
	assert.Equal(t, "CRITICAL - Backup failed for A (2026-10-18 22:00)\n", out.String())
}
