package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jandubois/omnicube-probe/internal/capture"
	"github.com/jandubois/omnicube-probe/internal/config"
	"github.com/jandubois/omnicube-probe/internal/logger"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Evaluate captured appliance replies without connecting",
	Long: `Replay runs a check against XML replies stored by --dump-dir (or saved by hand).
Files ending in .zst are decompressed. --backups is used by the status modes,
--inventory by status:notstarted and policy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backups, _ := cmd.Flags().GetString("backups")
		inventory, _ := cmd.Flags().GetString("inventory")
		if backups == "" && inventory == "" {
			return fmt.Errorf("replay needs --backups or --inventory")
		}
		return runCheckCommand(cmd, replayDialer(backups, inventory), false)
	},
}

// replayRunner answers commands from capture files and has nothing to close.
type replayRunner struct {
	capture.Replay
}

func (replayRunner) Close() error { return nil }

func replayDialer(backups, inventory string) dialFunc {
	return func(_ context.Context, _ *config.Config, log logger.Logger) (applianceRunner, error) {
		log.Debug("replaying captures", "backups", backups, "inventory", inventory)
		return replayRunner{capture.Replay{
			capture.KindBackups:   backups,
			capture.KindInventory: inventory,
		}}, nil
	}
}

func init() {
	replayCmd.Flags().String("backups", "", "Captured svt-backup-show reply")
	replayCmd.Flags().String("inventory", "", "Captured svt-vm-show reply")
	rootCmd.AddCommand(replayCmd)
}
