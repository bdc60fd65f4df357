package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

func newPurgeCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete staged raw rows older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			repo, err := a.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			cutoff := time.Now().Add(-olderThan)
			var total int64
			for _, st := range schema.Types() {
				n, err := repo.PurgeRawRecords(ctx, st, cutoff)
				if err != nil {
					return err
				}
				if n > 0 {
					a.log.WithFields(map[string]any{
						"source_type": string(st),
						"purged":      n,
					}).Info("raw rows purged")
				}
				total += n
			}
			a.log.WithField("total", total).Info("purge complete")
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention window")
	return cmd
}
