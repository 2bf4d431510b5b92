package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"sessioncore/internal/catalog"
	"sessioncore/internal/savecode"
	"sessioncore/internal/session"
	"sessioncore/internal/shared"
)

type Server struct {
	ctrl  *session.Controller
	cat   *catalog.Catalog
	codec *savecode.Codec
	// layer is nil when no room is configured.
	layer *shared.Layer
	mcp   *sdk.Server
}

func NewServer(ctrl *session.Controller, cat *catalog.Catalog, codec *savecode.Codec, layer *shared.Layer, version string) *Server {
	s := &Server{
		ctrl:  ctrl,
		cat:   cat,
		codec: codec,
		layer: layer,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "sessioncore",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
