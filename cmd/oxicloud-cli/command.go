package main

import (
	"flag"
	"fmt"
)

// command is the representation to create subcommands.
type command struct {
	*flag.FlagSet
	Name        string
	Action      func() error
	Usage       func() string
	Description func() string
}

// newCommand creates a new command.
func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cmd := &command{
		Name: name,
		Usage: func() string {
			return fmt.Sprintf("Usage: %s", name)
		},
		Action: func() error {
			return nil
		},
		Description: func() string {
			return ""
		},
		FlagSet: fs,
	}
	return cmd
}
