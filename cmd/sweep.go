package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/profile-letterbox/internal/sweeper"
)

func newSweepCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep over the jobs directory and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if retention <= 0 {
				retention = cfg.Sweep.Retention
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			report, err := sweeper.New(cfg.JobsDir(), retention).Sweep(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override SWEEP_RETENTION")
	return cmd
}
