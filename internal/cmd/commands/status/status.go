package status

import (
	"flag"
	"fmt"
	"os"

	"github.com/deskbridge/deskbridge/internal/cmd/base"
	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/setup"
	"github.com/deskbridge/deskbridge/pkg/models"
)

type Command struct {
	*base.Command

	flagConfig string
	flagLimit  int
}

func (c *Command) Synopsis() string {
	return "Show cursor position and recent sync records"
}

func (c *Command) Help() string {
	return `Usage: deskbridge status

This command prints the connector's cursor position, the total number of
synchronized appointments, and the most recent sync records.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("status", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"[DESKBRIDGE_CONFIG] Path to HCL configuration file",
	)
	f.IntVar(
		&c.flagLimit, "limit", 10,
		"Number of recent sync records to show",
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

	database, err := setup.NewDB(cfg, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error opening state database: %v", err))
		return 1
	}

	var cursor models.SyncCursor
	if err := cursor.Load(database, "deskbridge"); err != nil {
		c.UI.Error(fmt.Sprintf("error loading cursor: %v", err))
		return 1
	}

	total, err := models.Count(database)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error counting sync records: %v", err))
		return 1
	}

	if cursor.Position.IsZero() {
		c.UI.Output("Cursor: (initial, no successful run yet)")
	} else {
		c.UI.Output(fmt.Sprintf("Cursor: %s", cursor.Position.Format("2006-01-02 15:04:05 MST")))
	}
	c.UI.Output(fmt.Sprintf("Synchronized appointments: %d", total))

	var recent models.SyncRecords
	if err := recent.FindRecent(database, c.flagLimit); err != nil {
		c.UI.Error(fmt.Sprintf("error listing sync records: %v", err))
		return 1
	}
	if len(recent) == 0 {
		return 0
	}

	c.UI.Output("")
	c.UI.Output("Recent records:")
	for _, r := range recent {
		c.UI.Output(fmt.Sprintf("  %s  appointment=%s  ticket=%s  service=%q",
			r.SyncedAt.Format("2006-01-02 15:04"), r.AppointmentID, r.TicketID, r.ServiceType))
	}
	return 0
}
