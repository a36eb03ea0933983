package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/database"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/metrics"
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/server"
)

var (
	libsqlURL   = flag.String("libsql-url", "", "libSQL database URL (default: file:./entity-graph.db)")
	authToken   = flag.String("auth-token", "", "Authentication token for remote databases")
	transport   = flag.String("transport", "stdio", "Transport to use: stdio, sse or http")
	addr        = flag.String("addr", ":8080", "Address to listen on when using the sse or http transport")
	sseEndpoint = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
	staticDir   = flag.String("static-dir", "", "Directory served under /static/ by the http transport; must contain the page script main.js")
	seedFile    = flag.String("seed", "", "JSON file of records to load before serving")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn or error (default: $LOG_LEVEL or info)")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logging.L().Debug("no .env file loaded", "err", err)
	}
	level := *logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logging.Init(level)
	log := logging.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal, closing server")
		cancel()
	}()

	// Initialize database configuration
	config := database.NewConfig()

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	// Override with command line flags if provided
	if *libsqlURL != "" {
		config.URL = *libsqlURL
	}
	if *authToken != "" {
		config.AuthToken = *authToken
	}

	// Create database manager
	db, err := database.NewDBManager(config)
	if err != nil {
		log.Fatal("failed to create database manager", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database", "err", err)
		}
	}()

	if *seedFile != "" {
		n, err := db.LoadFile(ctx, *seedFile)
		if err != nil {
			log.Fatal("failed to load seed file", "path", *seedFile, "err", err)
		}
		log.Info("loaded seed records", "path", *seedFile, "records", n)
	}

	// Run the server with selected transport
	log.Info("starting entity graph server", "transport", *transport)
	switch *transport {
	case "stdio":
		mcpServer := server.NewMCPServer(db)
		go func() {
			defer cancel()
			if err := mcpServer.Run(ctx); err != nil {
				log.Error("server error", "err", err)
			}
		}()
	case "sse":
		mcpServer := server.NewMCPServer(db)
		go func() {
			defer cancel()
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				log.Error("SSE server error", "err", err)
			}
		}()
	case "http":
		handler := server.NewFormHandler(db, config.BackfillParallelism)
		go func() {
			defer cancel()
			if err := server.RunHTTP(ctx, *addr, handler, *staticDir); err != nil {
				log.Error("HTTP server error", "err", err)
			}
		}()
	default:
		log.Fatal("unknown transport (expected: stdio, sse or http)", "transport", *transport)
	}

	<-ctx.Done()

	log.Info("server stopped")
}
