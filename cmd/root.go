package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jandubois/omnicube-probe/internal/probe"
	"github.com/jandubois/omnicube-probe/internal/probes"
)

// Version is set at build time via -ldflags "-X github.com/jandubois/omnicube-probe/cmd.Version=..."
var Version = "dev"

const binaryName = "omnicube-probe"

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Nagios check for OmniCube / SimpliVity backups and backup policies",
	Long: `omnicube-probe logs into an OmniCube appliance over SSH, lists the VM backups
of one day or the backup policies of all VMs, and reports a Nagios verdict.

Modes:
  status              failed backups of the day (critical), retried backups (info)
  status:notstarted   as status, plus VMs with a policy but no backup at all
  policy              VMs with policy -N, or VMs without a policy for -N empty`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadEnvFile,
}

// ExitError carries the plugin exit code of a finished check.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("check finished with exit code %d", e.Code)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return probe.ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(rootCmd.OutOrStdout(), probe.StatusLine(probe.Unknown(err.Error(), err), false))
	return probe.ExitUnknown
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("env-file", ".env", "Environment file loaded before reading OMNICUBE_* variables")
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console, json)")

	// Check selection and evaluation
	pf.StringP("mode", "M", "", "Check mode: status, status:notstarted or policy")
	pf.StringP("policyname", "N", "", `Backup policy to list, or "empty" for VMs without policy`)
	pf.StringP("exclude", "E", "", "Comma separated host name fragments to exclude")
	pf.StringP("backupdate", "D", "yesterday", "Day to check: yesterday or YYYY-MM-DD")
	pf.String("timezone", "Local", "Time zone for failure timestamps")
	pf.String("output", probe.FormatNagios, "Output format (nagios, json, yaml)")
	pf.Bool("perfdata", false, "Append performance data to the nagios status line")
	pf.String("metrics-textfile", "", "Write Prometheus metrics to this file")

	rootCmd.Flags().BoolP("version", "v", false, "Print version and exit")
	rootCmd.Flags().Bool("describe", false, "Output built-in probe descriptions as JSON array")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", binaryName, Version)
			return nil
		}
		if describe, _ := cmd.Flags().GetBool("describe"); describe {
			printDescriptions(cmd)
			return nil
		}
		return runCheckCommand(cmd, dialAppliance, true)
	}
}

// loadEnvFile loads --env-file into the environment. A missing default
// file is ignored; a missing file named on the command line is an error.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if cmd.Flags().Changed("env-file") || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func printDescriptions(cmd *cobra.Command) {
	descs := probes.GetAllDescriptions()
	json.NewEncoder(cmd.OutOrStdout()).Encode(descs)
}
