package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/bronze"
	"github.com/Sternrassler/offer-pipeline/pkg/config"
	"github.com/Sternrassler/offer-pipeline/pkg/logging"
	"github.com/Sternrassler/offer-pipeline/pkg/pipeline"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hints := errors.FlattenHints(err); hints != "" {
		fmt.Fprintf(w, "Hint: %s\n", hints)
	}
}

// cli carries state from the root command to its subcommands.
type cli struct {
	configFile string
	logLevel   string
	pretty     bool

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "offer-pipeline",
		Short: "Daily ingestion of published job offers",
		Long: `offer-pipeline collects the job offers published on a given day.

Each occupation code is paged through the search API into one raw snapshot
per day (bronze), which is then normalised into relational tables (silver).

Examples:
  offer-pipeline fetch 2025-12-23   # Write the bronze snapshot for a day
  offer-pipeline transform          # Rebuild silver tables for yesterday
  offer-pipeline run                # Fetch and transform yesterday
  offer-pipeline schedule           # Run daily and serve /metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&c.pretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		c.fetchCmd(),
		c.transformCmd(),
		c.runCmd(),
		c.scheduleCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	v, err := config.NewViper(c.configFile)
	if err != nil {
		return errors.WithHint(err, "check the --config path")
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		v.Set("log.level", c.logLevel)
	}
	if f := cmd.Flags().Lookup("pretty"); f != nil && f.Changed {
		v.Set("log.pretty", c.pretty)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return errors.WithHint(err, "settings come from the config file and OFFERS_* environment variables")
	}
	c.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Log.Level)
	logCfg.Pretty = cfg.Log.Pretty
	c.logger = logging.Setup(logCfg)
	return nil
}

func (c *cli) open(cmd *cobra.Command, s stages) (*app, error) {
	a, err := newApp(cmd.Context(), c.cfg, c.logger, s)
	if err != nil {
		return nil, withHints(err)
	}
	return a, nil
}

func (c *cli) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [date]",
		Short: "Fetch all partitions of a day into a bronze snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, stages{fetch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			date, err := a.date(args)
			if err != nil {
				return err
			}
			summary, err := a.orch.RunFetch(cmd.Context(), date)
			if err != nil {
				return withHints(err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func (c *cli) transformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform [date]",
		Short: "Rebuild the silver tables of a day from its bronze snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, stages{transform: true})
			if err != nil {
				return err
			}
			defer a.Close()

			date, err := a.date(args)
			if err != nil {
				return err
			}
			summary, err := a.orch.RunTransform(cmd.Context(), date)
			if err != nil {
				return withHints(err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [date]",
		Short: "Fetch then transform a day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, stages{fetch: true, transform: true})
			if err != nil {
				return err
			}
			defer a.Close()

			date, err := a.date(args)
			if err != nil {
				return err
			}
			fetched, transformed, err := a.orch.Run(cmd.Context(), date)
			if err != nil {
				return withHints(err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"fetch":     fetched,
				"transform": transformed,
			})
		},
	}
}

// withHints attaches operator hints to the fatal errors that have an obvious
// remedy.
func withHints(err error) error {
	switch {
	case auth.IsGrantError(err):
		return errors.WithHint(err, "check OFFERS_API_CLIENT_ID, OFFERS_API_CLIENT_SECRET and api.token_url")
	case errors.Is(err, config.ErrNoPartitionsFile):
		return errors.WithHint(err, "point fetch.partitions_file at the full occupation code list, one code per line")
	case errors.Is(err, pipeline.ErrNoPartitions):
		return errors.WithHint(err, "every partition failed; inspect the audit log for the HTTP statuses")
	case errors.Is(err, bronze.ErrNotFound):
		return errors.WithHint(err, "run fetch for this date first")
	case errors.Is(err, context.Canceled):
		return errors.WithHint(err, "the run was interrupted; rerunning the date replaces its output")
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
