package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/pkg/mcp"
)

// mcpCmd serves the MCP tools on stdio. Logs go to stderr so stdout stays a
// clean JSON-RPC stream.
func mcpCmd(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	srv := mcp.NewServer(mcp.ServerDeps{
		Runner: a.executor,
		Store:  a.store,
		Hub:    a.hub,
		Expr:   expressions.NewExprEngine(),
		JQ:     expressions.NewGoJQEngine(),
		Logger: a.logger,
	})
	return srv.Serve(ctx)
}
