package main

import (
	"github.com/spf13/cobra"

	"github.com/okian/tradevalue/internal/simulation"
)

func seedCmd() *cobra.Command {
	cfg := simulation.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Post synthetic offers and outcomes to a running server",
		// seed talks to a server over HTTP and needs no local config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := simulation.Run(cmd.Context(), cfg)
			if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	f.IntVar(&cfg.Offers, "offers", cfg.Offers, "number of offers to generate")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrent submitters")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	f.DurationVar(&cfg.Span, "span", cfg.Span, "spread offer times over this trailing span")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for values and outcomes")
	f.Float64Var(&cfg.Boundary, "boundary", cfg.Boundary, "value delta above which offers are declined")
	f.Float64Var(&cfg.Noise, "noise", cfg.Noise, "probability an outcome is flipped")
	f.BoolVar(&cfg.SkipOutcomes, "skip-outcomes", false, "submit offers only")
	f.BoolVar(&cfg.Learn, "learn", false, "trigger a learning run afterwards")
	return cmd
}
