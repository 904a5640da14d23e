// Command apptracker-sink runs the in-memory development collector. It
// implements the batch and project endpoints the SDK talks to, so the demo
// CLI and local testing work without a real backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/apptracker/apptracker-go/internal/server"
	"github.com/apptracker/apptracker-go/internal/sink"
)

func main() {
	addr := flag.String("addr", ":5000", "Listen address")
	debug := flag.Bool("debug", false, "Enable gin debug mode")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	mode := "release"
	if *debug {
		mode = "debug"
	}

	srv := server.New(*addr, sink.NewService(), mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		slog.Error("Sink stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}
