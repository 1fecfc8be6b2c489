// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one narpush subcommand. narpush has a single level of
// subcommands, so there is no nesting.
type command struct {
	Name        string
	Summary     string
	Description string
	Usage       string
	Examples    []example

	// Environment lists the variables the command reads, shown in help.
	Environment []envVar

	// Flags returns a fresh flag set bound to the command's options.
	// It is called once to parse and again to render help.
	Flags func() *pflag.FlagSet

	Run func(ctx context.Context, args []string) error
}

type example struct {
	Description string
	Command     string
}

type envVar struct {
	Name        string
	Description string
}

// commandSet dispatches "narpush <command> ..." to its commands.
type commandSet struct {
	summary  string
	commands []*command
}

func (set *commandSet) execute(ctx context.Context, help io.Writer, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") && !isHelpFlag(args[0]) {
		set.printHelp(help)
		return fmt.Errorf("command required")
	}
	if isHelpFlag(args[0]) {
		set.printHelp(help)
		return nil
	}

	name := args[0]
	for _, cmd := range set.commands {
		if cmd.Name == name {
			return cmd.execute(ctx, help, args[1:])
		}
	}
	if match := set.prefixMatch(name); match != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)", name, match)
	}
	return fmt.Errorf("unknown command %q\n\nRun 'narpush --help' for usage.", name)
}

// prefixMatch returns the only command whose name starts with name.
func (set *commandSet) prefixMatch(name string) string {
	var match string
	for _, cmd := range set.commands {
		if strings.HasPrefix(cmd.Name, name) {
			if match != "" {
				return ""
			}
			match = cmd.Name
		}
	}
	return match
}

func (set *commandSet) printHelp(w io.Writer) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  narpush <command> [flags]\n  narpush --version\n\nCommands:\n", set.summary)
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, cmd := range set.commands {
		fmt.Fprintf(tw, "  %s\t%s\n", cmd.Name, cmd.Summary)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nRun 'narpush <command> --help' for more information on a command.\n")
}

func (c *command) execute(ctx context.Context, help io.Writer, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(help)
		return nil
	}
	if c.Flags != nil {
		flagSet := c.Flags()
		flagSet.SetOutput(io.Discard)
		if err := flagSet.Parse(args); err != nil {
			if err == pflag.ErrHelp {
				c.printHelp(help)
				return nil
			}
			return fmt.Errorf("%s\n\nRun 'narpush %s --help' for usage.", err, c.Name)
		}
		args = flagSet.Args()
	}
	return c.Run(ctx, args)
}

func (c *command) printHelp(w io.Writer) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", c.Description, c.Usage)

	if c.Flags != nil {
		var flagHelp strings.Builder
		flagSet := c.Flags()
		flagSet.SetOutput(&flagHelp)
		flagSet.PrintDefaults()
		fmt.Fprintf(w, "\nFlags:\n%s", flagHelp.String())
	}

	if len(c.Environment) > 0 {
		fmt.Fprintf(w, "\nEnvironment:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, variable := range c.Environment {
			fmt.Fprintf(tw, "  %s\t%s\n", variable.Name, variable.Description)
		}
		tw.Flush()
	}

	for index, ex := range c.Examples {
		if index == 0 {
			fmt.Fprintf(w, "\nExamples:\n")
		}
		fmt.Fprintf(w, "  # %s\n  %s\n", ex.Description, ex.Command)
	}
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
