package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/probe"
)

func newProbeCmd(a *app) *cobra.Command {
	var (
		name     string
		maxBytes int
		delim    string
	)

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Sample a new export and suggest a source descriptor",
		Long: `probe reads a bounded sample of an unregistered export, infers
column types and the likely natural key, and prints a starter
descriptor as JSON. Refine the output and register it in code before
ingesting the new source type.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := probe.Options{
				Path:     args[0],
				Name:     name,
				MaxBytes: maxBytes,
			}
			if delim != "" {
				opt.Delimiter = []rune(delim)[0]
			}

			rep, err := probe.Probe(opt)
			if err != nil {
				return err
			}

			fmt.Fprintln(os.Stderr, rep.Summary())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep.Descriptor)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "suggested source type name (default from file name)")
	cmd.Flags().IntVar(&maxBytes, "max-bytes", 0, "sample size in bytes (default 64KiB)")
	cmd.Flags().StringVar(&delim, "delimiter", "", "field delimiter (default comma)")
	return cmd
}
