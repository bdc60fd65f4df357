package main

import (
	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/api"
	"github.com/sandahltim/RFID3-sub003/internal/correlate"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			repo, err := a.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if addr == "" {
				addr = a.cfg.API.Addr
			}

			srv := &api.Server{
				Queries: &correlate.Queries{Repo: repo},
				Repo:    repo,
				Log:     a.log,
			}
			a.log.WithField("addr", addr).Info("query API listening")
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
