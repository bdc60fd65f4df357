package main

import (
	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/correlate"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Run entity resolution over current equipment and items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			repo, err := a.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			mb := a.openMetrics(ctx)
			defer mb.Close(ctx)

			res, err := (&correlate.Resolver{
				Repo:    repo,
				Matcher: correlate.TokenPrefixMatcher{Tokens: a.cfg.Resolve.NameTokens},
				Metrics: mb,
				Logger:  logAdapter{a.log},
			}).Resolve(ctx)
			if err != nil {
				return err
			}

			a.log.WithFields(map[string]any{
				"created":   res.Created,
				"refreshed": res.Refreshed,
				"by_tier":   res.ByTier,
				"duration":  res.Duration.String(),
			}).Info("resolution complete")
			return nil
		},
	}
}
