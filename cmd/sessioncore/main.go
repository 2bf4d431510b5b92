package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath = "sessioncore.yaml"

func main() {
	root := &cobra.Command{
		Use:   "sessioncore",
		Short: "Session and progression core for the NPC therapy game",
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Path to the game config file")
	root.AddCommand(initCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(newGameCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(importCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(playCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(roomCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
