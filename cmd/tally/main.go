package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Command().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Command returns the root tally command.
func Command() *cobra.Command {
	c := &cobra.Command{
		Use:           "tally",
		Short:         "Create, vote on and close polls on a Tally node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	AddGlobalFlags(c.PersistentFlags())

	c.AddCommand(
		keygenCommand(),
		createCommand(),
		voteCommand(),
		closeCommand(),
		pollCommand(),
		ballotCommand(),
		eventsCommand(),
		followCommand(),
	)

	return c
}
