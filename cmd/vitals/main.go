package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	service "github.com/okian/vitals/internal/app"
	"github.com/okian/vitals/internal/config"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
)

const defaultRunLimit = 10

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "vitals",
		Short:         "Wearable export ingestion and shadow scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML config file (default $VITALS_CONFIG)")

	root.AddCommand(newIngestCmd(&cfgPath))
	root.AddCommand(newQueryCmd(&cfgPath))
	root.AddCommand(newDailyCmd(&cfgPath))
	root.AddCommand(newReadinessCmd(&cfgPath))
	root.AddCommand(newSleepCmd(&cfgPath))
	root.AddCommand(newBatchesCmd(&cfgPath))
	return root
}

// withService loads the configuration, starts a service and runs fn with it.
func withService(ctx context.Context, cfgPath string, fn func(*service.Service) error) error {
	// Logging goes to stderr until the configured format is known.
	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat)), logger.WithOutput(os.Stderr)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := service.New(cfg, service.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			log.Error(ctx, "stop failed", logger.Error(err))
		}
	}()
	return fn(svc)
}

func newIngestCmd(cfgPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest the configured export batches into the canonical store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), *cfgPath, func(svc *service.Service) error {
				batches, err := svc.ConfiguredBatches()
				if err != nil {
					return err
				}
				report, runErr := svc.Ingest(cmd.Context(), batches, force)
				if report != nil {
					if err := printJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest batches whose sources are unchanged")
	return cmd
}

func newQueryCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "query <metric> <from> <to>",
		Short: "Print canonical samples of one metric in [from, to)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := model.ParseMetric(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), *cfgPath, func(svc *service.Service) error {
				from, to, err := parseRange(args[1], args[2], svc.Location())
				if err != nil {
					return err
				}
				series, err := svc.Query(cmd.Context(), metric, from, to)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), series)
			})
		},
	}
}

// dayRangeCmd builds a command over an inclusive range of local days.
func dayRangeCmd(cfgPath *string, use, short string, run func(context.Context, *service.Service, time.Time, time.Time) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <from> <to>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), *cfgPath, func(svc *service.Service) error {
				first, last, err := parseRange(args[0], args[1], svc.Location())
				if err != nil {
					return err
				}
				out, err := run(cmd.Context(), svc, first, last)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newDailyCmd(cfgPath *string) *cobra.Command {
	return dayRangeCmd(cfgPath, "daily", "Print daily aggregates of the local days from..to",
		func(ctx context.Context, svc *service.Service, first, last time.Time) (any, error) {
			return svc.Daily(ctx, first, last)
		})
}

func newReadinessCmd(cfgPath *string) *cobra.Command {
	return dayRangeCmd(cfgPath, "readiness", "Print shadow readiness scores of the local days from..to",
		func(ctx context.Context, svc *service.Service, first, last time.Time) (any, error) {
			return svc.Readiness(ctx, first, last)
		})
}

func newSleepCmd(cfgPath *string) *cobra.Command {
	return dayRangeCmd(cfgPath, "sleep", "Print shadow sleep scores of the sleep days from..to",
		func(ctx context.Context, svc *service.Service, first, last time.Time) (any, error) {
			return svc.SleepScores(ctx, first, last)
		})
}

func newBatchesCmd(cfgPath *string) *cobra.Command {
	var limit int
	var runID string
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List catalogued batches and recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), *cfgPath, func(svc *service.Service) error {
				if runID != "" {
					failures, err := svc.RunFailures(cmd.Context(), runID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), failures)
				}
				batches, err := svc.Catalog(cmd.Context())
				if err != nil {
					return err
				}
				runs, err := svc.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"batches": batches,
					"runs":    runs,
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "runs", defaultRunLimit, "number of recent runs to list")
	cmd.Flags().StringVar(&runID, "failures", "", "print the failure manifest of this run instead")
	return cmd
}

// parseTime accepts a local calendar date or an RFC 3339 instant.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func parseRange(a, b string, loc *time.Location) (time.Time, time.Time, error) {
	from, err := parseTime(a, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime(b, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s is before start %s", b, a)
	}
	return from, to, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
