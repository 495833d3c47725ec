// Package main provides the MCP server entry point for toolvault.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/mcp"
	"github.com/tobyh/toolvault/internal/search"
	"github.com/tobyh/toolvault/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// MCP uses stdout for the protocol, so log to stderr.
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down MCP server")
		cancel()
	}()

	// Nothing dials the vector store here; the connection initializes
	// lazily on the first tool call that needs it.
	conn := connection.NewManager()
	storeMgr := store.NewManager(conn)
	searchMgr := search.NewManager(conn, storeMgr)
	defer func() {
		storeMgr.Close()
		searchMgr.Close()
		_ = conn.Close()
	}()

	go func() {
		if err := config.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Settings watcher unavailable")
		}
	}()

	server := mcp.NewServer(conn, storeMgr, searchMgr, Version)
	log.Info().Str("version", Version).Msg("Starting MCP server")

	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("MCP server error")
	}
}
