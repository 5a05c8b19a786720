package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/searchx/searchx/internal/gateway"
	"github.com/searchx/searchx/internal/tui"
)

// shutdownTimeout bounds in-flight completions on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// runServe starts the daemon and blocks until a shutdown signal.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	port := fs.Int("port", 0, "override server.port")
	debug := fs.Bool("debug", false, "enable debug logging")
	noBanner := fs.Bool("no-banner", false, "suppress startup banner")
	_ = fs.Parse(args) // ExitOnError handles errors

	if !*noBanner {
		tui.PrintBanner()
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid --port: %w", err)
		}
	}
	if *debug {
		cfg.Monitoring.LogLevel = "debug"
	}

	if checkGatewayRunning(daemonURL(cfg)) {
		return fmt.Errorf("a daemon is already listening on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("config", source).
		Msg("SearchX starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("SearchX stopped")
	return nil
}
