package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show unlocked, healed and bonded npcs from the saved game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
	return cmd
}

func runStatus(out io.Writer) error {
	ctx := context.Background()

	g, err := openGame(ctx, gameOptions{})
	if err != nil {
		return err
	}
	defer g.store.Close(ctx)

	snap := g.tracker.Snapshot()
	fmt.Fprintf(out, "Project: %s\n", g.cfg.Project)
	fmt.Fprintf(out, "Play time: %ds (finale award given: %v)\n", snap.Time, snap.Award)
	fmt.Fprintf(out, "Mental state: %d\n", snap.MentalState)
	fmt.Fprintf(out, "Unlocked %d / %d, healed %d\n\n", len(snap.Unlocked), g.cat.Len(), len(snap.Healed))

	fmt.Fprintln(out, "NPCs:")
	for i, rec := range g.cat.Records() {
		if !g.tracker.IsUnlocked(i) {
			continue
		}
		marker := " "
		if g.tracker.IsHealed(i) {
			marker = "*"
		}
		fmt.Fprintf(out, "  %s [%d] %s (%s) bond %d\n", marker, i, rec.Name, rec.ID, snap.Bonds[rec.ID])
		if note, ok := snap.Notes[rec.ID]; ok {
			fmt.Fprintf(out, "      %s\n", note.Summary)
		}
	}

	if len(snap.Collectibles) > 0 {
		fmt.Fprintf(out, "\nCollectibles (%d):\n", len(snap.Collectibles))
		for _, c := range snap.Collectibles {
			fmt.Fprintf(out, "  - %s: %s\n", c.NPC, c.Prompt)
		}
	}

	if len(snap.Credits) > 0 {
		names := make([]string, 0, len(snap.Credits))
		for _, c := range snap.Credits {
			names = append(names, c.Name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "\nCredits: %s\n", strings.Join(names, ", "))
	}

	entries, err := g.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("listing stored keys: %w", err)
	}
	fmt.Fprintf(out, "\nStored (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "  %s  %d bytes  %s\n", e.Key, e.Size, e.UpdatedAt.Format(time.DateTime))
	}
	return nil
}
