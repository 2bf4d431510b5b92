package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"sessioncore/internal/catalog"
	"sessioncore/internal/config"
	"sessioncore/internal/progress"
	"sessioncore/internal/savecode"
	"sessioncore/internal/validate"
)

func validateCmd() *cobra.Command {
	var code string
	var catalogOnly bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the npc catalog and a saved game for consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(code, catalogOnly)
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Validate this save code instead of the autosave slot")
	cmd.Flags().BoolVar(&catalogOnly, "catalog-only", false, "Skip the saved game")
	return cmd
}

func runValidate(code string, catalogOnly bool) error {
	ctx := context.Background()

	cfg, err := config.LoadGameConfig(configPath)
	if err != nil {
		return err
	}

	cat, err := catalog.LoadDir(cfg.Catalog.Path, cfg.Catalog.Finale)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	var snap *progress.Snapshot
	if !catalogOnly {
		snap, err = loadSnapshot(ctx, cfg, cat, code)
		if err != nil {
			return err
		}
	}

	report, err := validate.Run(cat, snap)
	if err != nil {
		return err
	}

	errorIssues := report.Errors()
	warnIssues := report.Warnings()

	if len(errorIssues) == 0 && len(warnIssues) == 0 {
		fmt.Fprintln(os.Stdout, "No issues found.")
		return nil
	}

	if len(errorIssues) > 0 {
		fmt.Fprintf(os.Stdout, "Errors (%d):\n", len(errorIssues))
		printIssues(os.Stdout, errorIssues)
	}
	if len(warnIssues) > 0 {
		if len(errorIssues) > 0 {
			fmt.Fprintln(os.Stdout, "")
		}
		fmt.Fprintf(os.Stdout, "Warnings (%d):\n", len(warnIssues))
		printIssues(os.Stdout, warnIssues)
	}

	if len(errorIssues) > 0 {
		return fmt.Errorf("validation found errors")
	}
	return nil
}

// loadSnapshot decodes code when given, otherwise the autosave slot. A missing
// slot yields nil so only the catalog is checked.
func loadSnapshot(ctx context.Context, cfg *config.GameConfig, cat *catalog.Catalog, code string) (*progress.Snapshot, error) {
	codec := &savecode.Codec{CatalogSize: cat.Len(), DefaultUnlocked: cat.DefaultUnlocked()}
	if code != "" {
		snap, err := codec.DecodeCode(code)
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}

	st, err := openStore(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	defer st.Close(ctx)

	autosave := savecode.NewAutosaver(codec, st, nil, savecode.AutosaveOptions{
		Slot:   cfg.Storage.Slot,
		Logger: log.New(os.Stderr, "", log.LstdFlags),
	})
	snap, ok, err := autosave.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		fmt.Fprintf(os.Stdout, "No saved game in slot %q; checking the catalog only.\n", autosave.Slot())
		return nil, nil
	}
	return &snap, nil
}

func printIssues(out *os.File, issues []validate.Issue) {
	for _, issue := range issues {
		location := "catalog"
		if issue.NPC != "" {
			location = issue.NPC
		}
		if issue.Index >= 0 {
			location = fmt.Sprintf("%s [%d]", location, issue.Index)
		}
		fmt.Fprintf(out, "  - %s: %s (%s)\n", location, issue.Message, issue.Code)
	}
}
