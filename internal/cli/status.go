package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print scheduler metadata and any active job's state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadedConfig
			ctx := cmd.Context()

			store, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}

			meta, err := store.GetSchedulerMetadata(ctx)
			if err != nil {
				return fmt.Errorf("get scheduler metadata: %w", err)
			}
			if meta == nil || meta.LastScheduledTimestamp == nil {
				fmt.Println("watermark: none (no window has been committed yet)")
			} else {
				fmt.Printf("watermark: %s\n", meta.LastScheduledTimestamp.Format("2006-01-02T15:04:05Z07:00"))
			}

			active, err := store.GetActiveJobs(ctx)
			if err != nil {
				return fmt.Errorf("get active jobs: %w", err)
			}
			if len(active) == 0 {
				fmt.Println("active job: none")
				return nil
			}

			job := active[0]
			fmt.Printf("active job: %s\n", job.Id)
			fmt.Printf("  status:     %s\n", job.Status)
			fmt.Printf("  window:     [%s, %s)\n",
				job.DataPeriod.Start.Format("2006-01-02T15:04:05Z07:00"),
				job.DataPeriod.End.Format("2006-01-02T15:04:05Z07:00"))
			if job.FailedReason != "" {
				fmt.Printf("  failedReason: %s\n", job.FailedReason)
			}
			for _, rt := range job.ResourceTypes {
				state := "pending"
				if job.IsResourceCompleted(rt) {
					state = "completed"
				} else if job.ResourceProgresses[rt] != "" {
					state = "in progress"
				}
				fmt.Printf("  %-20s %s (processed=%d skipped=%d)\n",
					rt, state, job.ProcessedResourceCounts[rt], job.SkippedResourceCounts[rt])
			}
			return nil
		},
	}
}
