package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a save code for the current progression",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	g, err := openGame(ctx, gameOptions{})
	if err != nil {
		return err
	}
	defer g.store.Close(ctx)

	code, err := g.codec.EncodeCode(g.tracker.Snapshot())
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, code)
	return nil
}
