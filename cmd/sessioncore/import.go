package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sessioncore/internal/gameerr"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <code>",
		Short: "Replace progression with a save code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0])
		},
	}
	return cmd
}

func runImport(code string) error {
	ctx := context.Background()

	g, err := openGame(ctx, gameOptions{})
	if err != nil {
		return err
	}
	defer g.close(ctx)

	snap, err := g.codec.DecodeCode(code)
	if err != nil {
		return fmt.Errorf("%s: %w", gameerr.UserMessage(gameerr.DecodeError), err)
	}
	if err := g.ctrl.Restore(snap); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Imported save: %d unlocked, %d healed.\n", len(snap.Unlocked), len(snap.Healed))
	return nil
}
