package cli

import (
	"github.com/spf13/cobra"
)

func newRunOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Invoke Trigger exactly once and exit with its error",
		Long: `run-once invokes the scheduler's Trigger exactly once, for
cron-style external scheduling or manual runs, and exits non-zero if
Trigger returned an error. A benign lease-contention skip is reported
as success.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadedConfig
			log := newLogger(cfg)
			ctx := cmd.Context()

			mgr, err := buildManager(ctx, cfg, log)
			if err != nil {
				return err
			}

			if err := mgr.Trigger(ctx); err != nil {
				log.Error("trigger failed", "error", err)
				return err
			}
			return nil
		},
	}
}
