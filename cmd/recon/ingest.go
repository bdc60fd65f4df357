package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/ingest"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

func newIngestCmd(a *app) *cobra.Command {
	var sourceType string

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a source export into staging and business tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			st := schema.SourceType(sourceType)
			if _, err := schema.Lookup(st); err != nil {
				return fmt.Errorf("unknown source type %q (known: %v)", sourceType, schema.Types())
			}

			repo, err := a.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			mb := a.openMetrics(ctx)
			defer mb.Close(ctx)

			ing := &ingest.Ingestor{
				Repo:      repo,
				Cleaner:   transformer.NewCleaner(a.cfg.Ingest.DateFormats),
				Mapping:   a.cfg.Mapping(),
				Metrics:   mb,
				Logger:    logAdapter{a.log},
				ChunkSize: a.cfg.Ingest.ChunkSize,
				Parser:    a.cfg.Ingest.Parser,
			}

			res, err := ing.Ingest(ctx, args[0], st)
			if err != nil {
				return err
			}

			a.log.WithFields(map[string]any{
				"batch_id":       res.BatchID,
				"rows_read":      res.RowsRead,
				"rows_staged":    res.RowsStaged,
				"inserted":       res.Upserts.Inserted,
				"updated":        res.Upserts.Updated,
				"skipped_dup":    res.Upserts.SkippedDuplicate,
				"facts_inserted": res.FactsInserted,
				"skipped_rows":   res.SkippedRows,
				"warnings":       res.Warnings,
				"partial":        res.Partial,
				"duration":       res.Duration.String(),
			}).Info("ingest complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&sourceType, "type", "t", "", "source type (equipment, line_item, scorecard, ...)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
