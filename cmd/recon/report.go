package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/correlate"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		batches int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the correlation quality report and recent batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			repo, err := a.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			q := &correlate.Queries{Repo: repo}
			rep, err := q.Quality(ctx)
			if err != nil {
				return err
			}

			recent, err := repo.ListSourceFiles(ctx, batches)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"quality": rep,
					"batches": recent,
				})
			}

			a.log.WithFields(map[string]any{
				"correlations":   rep.TotalCorrelations,
				"equipment":      rep.TotalEquipment,
				"items":          rep.TotalItems,
				"correlated_pct": rep.CorrelatedPct,
				"orphaned":       rep.OrphanedCount,
				"by_tier":        rep.ByConfidenceTier,
			}).Info("quality report")

			for _, side := range []string{storage.SideEquipment, storage.SideItems} {
				keys, err := q.Uncorrelated(ctx, side)
				if err != nil {
					return err
				}
				a.log.WithFields(map[string]any{
					"side":  side,
					"count": len(keys),
				}).Info("uncorrelated")
			}

			for _, sf := range recent {
				a.log.WithFields(map[string]any{
					"batch_id":    sf.BatchID,
					"source_type": sf.SourceType,
					"file":        sf.FileName,
					"rows_read":   sf.RowsRead,
					"rows_staged": sf.RowsStaged,
					"status":      sf.Status,
					"started_at":  sf.StartedAt,
				}).Info("batch")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit report as JSON")
	cmd.Flags().IntVar(&batches, "batches", 10, "number of recent batches to include")
	return cmd
}
