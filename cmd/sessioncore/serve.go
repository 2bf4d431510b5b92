package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sessioncore/internal/mcp"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := openGame(ctx, gameOptions{withRoom: true})
	if err != nil {
		return err
	}
	defer g.close(context.Background())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.autosave.Run(runCtx, g.cfg.Autosave.Interval, g.ctrl.InSession)
	go tick(runCtx, g)

	server := mcp.NewServer(g.ctrl, g.cat, g.codec, g.layer, version)
	err = server.Run(runCtx, &sdk.StdioTransport{})
	if runCtx.Err() != nil {
		return nil
	}
	return err
}
