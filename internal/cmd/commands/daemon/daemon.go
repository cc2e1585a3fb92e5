package daemon

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskbridge/deskbridge/internal/cmd/base"
	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/setup"
	"github.com/deskbridge/deskbridge/pkg/connector"
)

type Command struct {
	*base.Command

	flagConfig       string
	flagPollInterval time.Duration
}

func (c *Command) Synopsis() string {
	return "Run the connector as a recurring daemon"
}

func (c *Command) Help() string {
	return `Usage: deskbridge daemon

This command runs synchronization passes on a fixed interval until
interrupted. Runs never overlap: each pass completes before the next
starts, and a run lease guards against a second process. A failed pass
is logged and the daemon continues with the next tick.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("daemon", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"[DESKBRIDGE_CONFIG] Path to HCL configuration file",
	)
	f.DurationVar(
		&c.flagPollInterval, "poll-interval", 0,
		"Interval between runs (overrides the config file)",
	)

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	configPath := c.flagConfig
	if val, ok := os.LookupEnv("DESKBRIDGE_CONFIG"); ok && configPath == "" {
		configPath = val
	}
	if configPath == "" {
		c.UI.Error("config path is required (--config or DESKBRIDGE_CONFIG)")
		return 1
	}

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}

	interval := cfg.PollInterval()
	if c.flagPollInterval > 0 {
		interval = c.flagPollInterval
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := setup.NewDB(cfg, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error opening state database: %v", err))
		return 1
	}

	conn, err := setup.NewConnector(ctx, cfg, database, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building connector: %v", err))
		return 1
	}

	log := c.Log.Named("daemon")
	log.Info("daemon started", "poll_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.runOnce(ctx, conn)

		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, daemon stopping")
			return 0
		case <-ticker.C:
		}
	}
}

// runOnce executes a pass and logs the outcome. Run-level failures do
// not stop the daemon; credentials and connectivity may be fixed
// between ticks.
func (c *Command) runOnce(ctx context.Context, conn *connector.Connector) {
	log := c.Log.Named("daemon")

	report, err := conn.Run(ctx)
	if err != nil {
		var ae *connector.AuthError
		if errors.As(err, &ae) {
			log.Error("run aborted: authentication failure", "system", ae.System, "error", err)
			return
		}
		log.Error("run aborted", "error", err)
		return
	}

	if rerr := report.Err(); rerr != nil {
		log.Warn("run completed with record failures",
			"synced", report.Synced,
			"mapping_failures", report.MappingFailures,
			"write_failures", report.WriteFailures,
			"errors", rerr)
		return
	}
	log.Info("run completed",
		"fetched", report.Fetched,
		"synced", report.Synced,
		"skipped", report.Skipped)
}
