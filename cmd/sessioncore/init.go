package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

type starterNPC struct {
	id, name, origin, gender, opening, crisis string
}

var starterNPCs = []starterNPC{
	{"marla", "Marla", "the coast", "female", "I don't know why I'm here.", "Marla kept the lighthouse for thirty years until the lamp was automated. She still wakes at dusk to light it."},
	{"bram", "Bram", "the hill farms", "male", "The hills are too quiet this year.", "Bram's flock wandered off in a storm and he has not slept a full night since."},
	{"ines", "Ines", "the river town", "female", "Everyone says I'm fine. Am I?", "Ines was the town's best swimmer until the flood. Now she cannot cross the bridge."},
	{"oskar", "Oskar", "the old mine", "male", "Make it quick, the shift starts soon.", "Oskar counts every step he takes underground and cannot stop counting above it."},
	{"the-architect", "The Architect", "the city plans", "", "You found me. Fewer do.", "The Architect drew every street in the city and now sees the mistakes in all of them."},
	{"the-mirror", "The Mirror", "the hall of glass", "", "Say what you see.", "The Mirror only knows itself through whoever stands in front of it."},
	{"the-keeper", "The Keeper", "the sealed archive", "", "Nothing leaves this room.", "The Keeper guards a door nobody has asked to open in a century."},
	{"the-listener", "The Listener", "everywhere at once", "", "Go on. I'm listening.", "The Listener has heard every confession in the game and told none of them."},
}

func initCmd() *cobra.Command {
	var projectName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new sessioncore project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectName) == "" {
				return fmt.Errorf("--name is required")
			}
			return runInit(projectName)
		},
	}
	cmd.Flags().StringVar(&projectName, "name", "", "Project name")
	return cmd
}

func runInit(projectName string) error {
	npcDir := "npcs"
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if _, err := os.Stat(npcDir); err == nil {
		return fmt.Errorf("%s already exists", npcDir)
	}

	configContents := fmt.Sprintf("project: %s\nversion: 1\n\ncatalog:\n  path: ./npcs/\n  finale: [the-architect, the-mirror, the-keeper, the-listener]\n  minigame_npc: bram\n\nstorage:\n  dsn: sqlite://./save.db\n  slot: autosave\n\nprogression:\n  finale_award_after: 20m\n\nautosave:\n  interval: 30s\n\nai:\n  provider: none\n\nroom:\n  url: \"\"\n  name: lobby\n", projectName)
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}

	if err := os.MkdirAll(npcDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", npcDir, err)
	}
	for _, npc := range starterNPCs {
		path := filepath.Join(npcDir, npc.id+".md")
		if err := os.WriteFile(path, []byte(npc.document()), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	return nil
}

func (n starterNPC) document() string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\nname: %s\norigin: %s\n", n.id, n.name, n.origin)
	if n.gender != "" {
		fmt.Fprintf(&b, "gender: %s\n", n.gender)
	}
	fmt.Fprintf(&b, "opening_statement: %q\n", n.opening)
	b.WriteString("---\n")
	b.WriteString(n.crisis)
	b.WriteString("\n")
	return b.String()
}
