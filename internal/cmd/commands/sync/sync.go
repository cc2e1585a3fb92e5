package sync

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deskbridge/deskbridge/internal/cmd/base"
	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/setup"
)

type Command struct {
	*base.Command

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run one synchronization pass"
}

func (c *Command) Help() string {
	return `Usage: deskbridge sync

This command fetches appointments created since the last successful run,
creates a service request for each, and exits. Exit code 0 means the run
completed (individual record failures are logged); nonzero means the run
aborted before any state changed.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("sync", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"[DESKBRIDGE_CONFIG] Path to HCL configuration file",
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

	report, err := conn.Run(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("run aborted: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf(
		"Run %s complete: %d fetched, %d synced, %d skipped, %d recovered",
		report.RunID, report.Fetched, report.Synced, report.Skipped, report.Recovered))
	if err := report.Err(); err != nil {
		c.UI.Warn(fmt.Sprintf("%d record(s) were skipped with errors:\n%v",
			report.MappingFailures+report.WriteFailures, err))
	}
	return 0
}
