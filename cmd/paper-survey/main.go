// Command paper-survey is an interactive research assistant that searches
// scholarly literature, downloads papers and writes survey reports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/paper-survey/config"
	"github.com/sweetpotato0/paper-survey/pkg/logging"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCMD().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli holds state shared by every subcommand once the root pre-run loaded it.
type cli struct {
	cfgPath  string
	language string
	cfg      *config.Config
	shutdown func(context.Context) error
}

func newRootCMD() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "paper-survey",
		Short:         "Research assistant for scientific literature surveys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.shutdown == nil {
				return nil
			}
			return c.shutdown(context.Background())
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "config file (default is ./paper-survey.yaml)")
	root.PersistentFlags().StringVar(&c.language, "language", "", "report language, en or cn (overrides config)")

	root.AddCommand(chatCMD(c), askCMD(c), fetchCMD(c), reportCMD(c), reportsCMD(c))
	return root
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return err
	}
	if c.language != "" {
		cfg.Report.Language = c.language
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	c.cfg = cfg

	logging.SetLogger(logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level))

	c.shutdown, err = telemetry.Init(ctx, telemetry.Config{
		Disable:     !cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(addr); err != nil {
				logging.WithComponent("metrics").Error("metrics server stopped", "error", err)
			}
		}()
	}
	return nil
}
