package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jandubois/omnicube-probe/internal/capture"
	"github.com/jandubois/omnicube-probe/internal/config"
	"github.com/jandubois/omnicube-probe/internal/logger"
	"github.com/jandubois/omnicube-probe/internal/metrics"
	"github.com/jandubois/omnicube-probe/internal/notify"
	"github.com/jandubois/omnicube-probe/internal/omnicube"
	"github.com/jandubois/omnicube-probe/internal/probe"
	"github.com/jandubois/omnicube-probe/internal/probes/backupstatus"
	"github.com/jandubois/omnicube-probe/internal/probes/policy"
	"github.com/jandubois/omnicube-probe/internal/session"
	"github.com/jandubois/omnicube-probe/internal/vault"
)

// ErrInvalidMode is returned for a missing or unrecognized -M value.
var ErrInvalidMode = errors.New("invalid mode")

const MsgSelectMode = "Please select a mode.\nType " + binaryName + " --help for all options."

const notifyTimeout = 15 * time.Second

// applianceRunner is an open appliance session.
type applianceRunner interface {
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) (applianceRunner, error)

// checkMode is a parsed -M value.
type checkMode struct {
	name   string // -M value, used as metrics label
	check  string // probe name
	status backupstatus.Mode
	policy bool
}

func parseMode(s string) (checkMode, error) {
	switch s {
	case "status":
		return checkMode{name: s, check: backupstatus.Name, status: backupstatus.Standard}, nil
	case "status:notstarted":
		return checkMode{name: s, check: backupstatus.Name, status: backupstatus.IncludeNotStarted}, nil
	case "policy":
		return checkMode{name: s, check: policy.Name, policy: true}, nil
	case "":
		return checkMode{}, fmt.Errorf("%w: no mode given", ErrInvalidMode)
	default:
		return checkMode{name: s}, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func init() {
	f := rootCmd.Flags()
	f.StringP("hostname", "H", "", "IP or hostname of the OmniCube host")
	f.StringP("username", "U", "", "OmniCube SSH username")
	f.StringP("password", "P", "", "OmniCube SSH password")
	f.IntP("timeout", "T", config.DefaultTimeout, "SSH and OmniCube command timeout in seconds")
	f.Int("port", config.DefaultPort, "SSH port")
	f.String("known-hosts", "", "known_hosts file to verify the appliance host key")
	f.Int("echo-lines", config.DefaultEchoLines, "Lines of echoed command to strip from every reply")
	f.Int("max-results", config.DefaultMaxResults, "Maximum backups returned by svt-backup-show")
	f.String("dump-dir", "", "Store compressed copies of the raw appliance replies in this directory")
	f.String("vault-secret", "", "Vault path holding username and password when -P is not given")
}

// runCheckCommand loads the configuration, runs one check, exports and prints
// its verdict. The returned error carries the exit code.
func runCheckCommand(cmd *cobra.Command, dial dialFunc, live bool) error {
	out := cmd.OutOrStdout()

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, cmd.Flags())
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return report(out, probe.Unknown(err.Error(), err), probe.FormatNagios, false)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return report(out, probe.Unknown(err.Error(), err), cfg.Output.Format, false)
	}
	defer log.Sync()

	ctx := cmd.Context()
	start := time.Now()
	mode, result := runCheck(ctx, cfg, log, dial, live, start)
	elapsed := time.Since(start)

	log.Info("check finished",
		"mode", mode.name,
		"status", result.Status,
		"elapsed", elapsed,
	)
	export(ctx, cfg, log, mode, result, elapsed, time.Now())
	return report(out, result, cfg.Output.Format, cfg.Output.Perfdata)
}

// runCheck produces the verdict for cfg. Input errors are reported before any
// connection is made. When live is false the appliance settings are not
// required (replay).
func runCheck(ctx context.Context, cfg *config.Config, log logger.Logger, dial dialFunc, live bool, now time.Time) (checkMode, *probe.Result) {
	mode, err := parseMode(cfg.Check.Mode)
	if err != nil {
		return mode, probe.Unknown(MsgSelectMode, err)
	}

	var window omnicube.Window
	if mode.policy {
		if cfg.Check.PolicyName == "" {
			return mode, probe.Unknown(policy.MsgMissingPolicyName, policy.ErrMissingPolicyName)
		}
	} else {
		window, err = omnicube.ResolveWindow(cfg.Check.BackupDate, now)
		if err != nil {
			msg := fmt.Sprintf("Invalid backup date %q. Please use YYYY-MM-DD or yesterday", cfg.Check.BackupDate)
			return mode, probe.Unknown(msg, err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return mode, probe.Unknown(err.Error(), err)
	}

	if live {
		if err := resolveCredentials(ctx, cfg, log); err != nil {
			return mode, probe.Unknown("Vault credential lookup failed: "+err.Error(), err)
		}
		if err := cfg.ValidateAppliance(); err != nil {
			return mode, probe.Unknown(err.Error(), err)
		}
	}

	runner, err := dial(ctx, cfg, log)
	if err != nil {
		msg := fmt.Sprintf("SSH login to %s failed: %v", cfg.Appliance.Hostname, err)
		return mode, probe.Unknown(msg, err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Debug("closing appliance session", "error", err)
		}
	}()

	var r omnicube.Runner = runner
	if cfg.Output.DumpDir != "" {
		r = &capture.Recorder{Runner: runner, Dir: cfg.Output.DumpDir, Log: log}
	}
	client := omnicube.NewClient(r, cfg.Check.MaxResults, cfg.TimeoutDuration())
	exclusions := omnicube.ParseExclusions(cfg.Check.Exclude)

	if mode.policy {
		return mode, policy.Run(ctx, client, cfg.Check.PolicyName, exclusions)
	}
	return mode, backupstatus.Run(ctx, client, window, backupstatus.Options{
		Mode:       mode.status,
		Exclusions: exclusions,
		Location:   loc,
	})
}

// resolveCredentials fills username and password from Vault when no password
// is configured and a secret path is.
func resolveCredentials(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if cfg.Appliance.Password != "" || cfg.Vault.SecretPath == "" {
		return nil
	}

	client, err := vault.NewClient(ctx,
		vault.WithAddress(cfg.Vault.Address),
		vault.WithToken(cfg.Vault.Token),
		vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
	)
	if err != nil {
		return err
	}
	creds, err := client.GetCredentials(ctx, cfg.Vault.SecretPath)
	if err != nil {
		return err
	}

	cfg.Appliance.Password = creds.Password
	if cfg.Appliance.Username == "" {
		cfg.Appliance.Username = creds.Username
	}
	log.Debug("credentials read from vault", "path", cfg.Vault.SecretPath, "username", cfg.Appliance.Username)
	return nil
}

func dialAppliance(ctx context.Context, cfg *config.Config, log logger.Logger) (applianceRunner, error) {
	s, err := session.Dial(ctx, cfg.Appliance.Hostname, cfg.Appliance.Username, cfg.Appliance.Password,
		session.WithPort(cfg.Appliance.Port),
		session.WithTimeout(cfg.TimeoutDuration()),
		session.WithKnownHosts(cfg.Appliance.KnownHosts),
		session.WithEchoLines(cfg.Appliance.EchoLines),
		session.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// export writes the metrics textfile and sends notifications. Failures are
// logged and never change the verdict.
func export(ctx context.Context, cfg *config.Config, log logger.Logger, mode checkMode, result *probe.Result, elapsed time.Duration, finished time.Time) {
	if cfg.Metrics.Textfile != "" {
		m := metrics.New()
		m.Observe(cfg.Appliance.Hostname, mode.name, result, elapsed, finished)
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Error("metrics export failed", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	d := notify.NewDispatcher(cfg.Notify, log)
	if !d.Enabled() {
		return
	}
	check := mode.check
	if check == "" {
		check = binaryName
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	d.NotifyResult(nctx, check, cfg.Appliance.Hostname, result)
}

// report prints result and converts a non-OK status into an ExitError.
func report(w io.Writer, result *probe.Result, format string, perfdata bool) error {
	if err := probe.Write(w, result, format, perfdata); err != nil {
		return err
	}
	if code := result.Status.ExitCode(); code != probe.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}
