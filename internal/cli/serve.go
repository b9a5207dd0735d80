package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic trigger loop until signalled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadedConfig
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr, err := buildManager(ctx, cfg, log)
			if err != nil {
				return err
			}

			log.Info("fhirjob serve starting", "triggerInterval", cfg.TriggerInterval)

			ticker := time.NewTicker(cfg.TriggerInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					log.Info("fhirjob serve shutting down")
					return nil
				case <-ticker.C:
					if err := mgr.Trigger(ctx); err != nil {
						log.Error("trigger failed", "error", err)
					}
				}
			}
		},
	}
}
