package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/tradevalue/internal/app"
)

// withService builds the service for a one-shot command and closes it after fn.
func withService(ctx context.Context, holder *configHolder, fn func(*service.Service) error) (err error) {
	rt, err := build(ctx, holder.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt.svc)
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", name, raw)
	}
	return t, nil
}

func learnCmd(holder *configHolder) *cobra.Command {
	var (
		segment   string
		forceDate string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Run weekly weight learning once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asOf, err := parseTime("force-date", forceDate)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), holder, func(svc *service.Service) error {
				results, runErr := svc.RunWeeklyLearning(cmd.Context(), service.LearningRequest{
					Segment:   segment,
					ForceDate: asOf,
					DryRun:    dryRun,
				})
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&segment, "segment", "", "segment to learn; empty learns all")
	cmd.Flags().StringVar(&forceDate, "force-date", "", "learn as of this date instead of now")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fit and report without committing")
	return cmd
}

func driftCmd(holder *configHolder) *cobra.Command {
	var segment string
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Run drift detection once and store the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), holder, func(svc *service.Service) error {
				report, runErr := svc.RunDriftDetection(cmd.Context(), segment)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&segment, "segment", "", "segment to check; empty checks all")
	return cmd
}

func backtestCmd(holder *configHolder) *cobra.Command {
	var segment, from, to string
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay weekly learning for a segment over a past window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromT, err := parseTime("from", from)
			if err != nil {
				return err
			}
			toT, err := parseTime("to", to)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), holder, func(svc *service.Service) error {
				rep, err := svc.Backtest(cmd.Context(), service.BacktestRequest{Segment: segment, From: fromT, To: toT})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVar(&segment, "segment", "", "segment to replay")
	cmd.Flags().StringVar(&from, "from", "", "window start; defaults to the first outcome")
	cmd.Flags().StringVar(&to, "to", "", "window end; defaults to now")
	_ = cmd.MarkFlagRequired("segment")
	return cmd
}
