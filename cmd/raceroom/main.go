package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/room"
	"github.com/lox/raceroom/internal/server"
	"github.com/lox/raceroom/internal/store"
)

var CLI struct {
	Config   string `short:"c" default:"raceroom.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" help:"Server address to bind to (overrides config)"`
	LogLevel string `short:"l" help:"Log level (overrides config)"`
	Database string `short:"d" help:"SQLite database path (overrides config)"`
	Seed     int64  `short:"s" help:"Race seed source (overrides config; 0 uses the clock)"`
}

func main() {
	ctx := kong.Parse(&CLI)

	cfg, err := server.LoadServerConfig(CLI.Config)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		ctx.Exit(1)
	}

	// Apply command line overrides
	if CLI.Addr != "" {
		cfg.Server.Address = CLI.Addr
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.Database != "" {
		cfg.Server.DatabasePath = CLI.Database
	}
	if CLI.Seed != 0 {
		cfg.Server.Seed = CLI.Seed
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		ctx.Exit(1)
	}

	// Setup logging
	logger := log.New(os.Stderr)
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	tun, err := race.LoadTunables(cfg.Server.TunablesFile)
	if err != nil {
		logger.Error("Failed to load tunables", "error", err)
		ctx.Exit(1)
	}
	if err := tun.Validate(); err != nil {
		logger.Error("Invalid tunables", "error", err)
		ctx.Exit(1)
	}

	db, err := store.NewSQLiteDB(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		ctx.Exit(1)
	}
	recorder := store.NewAsyncRecorder(db, logger)

	seed := cfg.Server.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logger.Info("Starting raceroom server",
		"addr", cfg.GetServerAddress(),
		"tracks", len(tun.Tracks),
		"database", cfg.Server.DatabasePath)

	wsServer := server.NewServer(cfg.GetServerAddress(), logger)
	rooms := room.NewManager(tun, wsServer, recorder, quartz.NewReal(), seed, logger)
	wsServer.SetRooms(rooms)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(wsServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		return wsServer.Stop()
	})

	err = g.Wait()

	rooms.CloseAll()
	recorder.Close()
	_ = db.Close()

	if err != nil {
		logger.Error("Server failed", "error", err)
		ctx.Exit(1)
	}
}
