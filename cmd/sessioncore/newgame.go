package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sessioncore/internal/store"
)

func newGameCmd() *cobra.Command {
	var (
		force         bool
		resetSettings bool
	)
	cmd := &cobra.Command{
		Use:   "new-game",
		Short: "Reset progression to the starting roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("new-game discards heals and unlocks; pass --force to confirm")
			}
			return runNewGame(resetSettings, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm discarding the current progression")
	cmd.Flags().BoolVar(&resetSettings, "reset-settings", false, "Also forget the voice and listening choices")
	return cmd
}

func runNewGame(resetSettings bool, out io.Writer) error {
	ctx := context.Background()

	g, err := openGame(ctx, gameOptions{})
	if err != nil {
		return err
	}
	defer g.close(ctx)

	if err := g.ctrl.NewGame(); err != nil {
		return err
	}
	if resetSettings {
		if err := g.store.Delete(ctx, store.KeySettings); err != nil {
			return fmt.Errorf("clearing settings: %w", err)
		}
	}
	fmt.Fprintf(out, "New game started with %d unlocked npcs.\n", len(g.tracker.Snapshot().Unlocked))
	return nil
}
