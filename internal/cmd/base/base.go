// Package base provides the shared scaffolding for CLI commands: the
// embedded command struct carrying the UI and logger, and a flag set
// wrapper that renders help text.
package base

import (
	"bytes"
	"flag"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded in every CLI command.
type Command struct {
	// UI is used for human-facing command output.
	UI cli.Ui

	// Log is the structured logger shared across the process.
	Log hclog.Logger
}

// FlagSet wraps flag.FlagSet with help rendering. Flag usage strings
// use the "[ENV_VAR] description" convention so the env override is
// visible in help output.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet creates a FlagSet from a standard flag set.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{FlagSet: f}
}

// Help renders the flag defaults as an indented block for inclusion in
// command help text.
func (f *FlagSet) Help() string {
	var buf bytes.Buffer
	f.SetOutput(&buf)
	f.PrintDefaults()
	if buf.Len() == 0 {
		return ""
	}
	return "\n\nOptions:\n\n" + buf.String()
}
