package main

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/correlate"
)

func newScheduleCmd(a *app) *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run resolution on a cron schedule",
		Long: `schedule runs the resolver repeatedly on a cron expression
(default from resolve.schedule in config). Overlapping runs are
prevented twice: cron.SkipIfStillRunning locally, the resolve advisory
lock across processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if spec == "" {
				spec = a.cfg.Resolve.Schedule
			}
			if spec == "" {
				return fmt.Errorf("no schedule configured (set resolve.schedule or --cron)")
			}

			repo, err := a.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			mb := a.openMetrics(ctx)
			defer mb.Close(ctx)

			resolver := &correlate.Resolver{
				Repo:    repo,
				Matcher: correlate.TokenPrefixMatcher{Tokens: a.cfg.Resolve.NameTokens},
				Metrics: mb,
				Logger:  logAdapter{a.log},
			}

			c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
			_, err = c.AddFunc(spec, func() {
				res, err := resolver.Resolve(ctx)
				if errors.Is(err, correlate.ErrResolutionRunning) {
					a.log.Warn("resolution already running elsewhere, skipped")
					return
				}
				if err != nil {
					a.log.WithError(err).Error("scheduled resolution failed")
					return
				}
				a.log.WithFields(map[string]any{
					"created":   res.Created,
					"refreshed": res.Refreshed,
					"duration":  res.Duration.String(),
				}).Info("scheduled resolution complete")
			})
			if err != nil {
				return fmt.Errorf("bad cron expression %q: %w", spec, err)
			}

			a.log.WithField("cron", spec).Info("scheduler started")
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "cron expression (overrides config)")
	return cmd
}
