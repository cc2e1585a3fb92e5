package version

import (
	"github.com/deskbridge/deskbridge/internal/cmd/base"
	"github.com/deskbridge/deskbridge/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return "Usage: deskbridge version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
