package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/deskbridge/deskbridge/internal/cmd/base"
	"github.com/deskbridge/deskbridge/internal/cmd/commands/daemon"
	"github.com/deskbridge/deskbridge/internal/cmd/commands/status"
	"github.com/deskbridge/deskbridge/internal/cmd/commands/sync"
	"github.com/deskbridge/deskbridge/internal/cmd/commands/version"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := &base.Command{
		UI:  ui,
		Log: log,
	}

	Commands = map[string]cli.CommandFactory{
		"sync": func() (cli.Command, error) {
			return &sync.Command{Command: baseCommand}, nil
		},
		"daemon": func() (cli.Command, error) {
			return &daemon.Command{Command: baseCommand}, nil
		},
		"status": func() (cli.Command, error) {
			return &status.Command{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: baseCommand}, nil
		},
	}
}
