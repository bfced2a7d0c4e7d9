// Command callsentryd runs the RTP ingestion and IVR-prompt detection
// service: a unicast UDP receiver, dispatcher, lifecycle controller, HTTP
// control plane, fingerprint detector, and recording sink, wired by
// internal/app. Bootstrap mirrors the teacher's main.go: stdlib flag
// parsing, config load with a logged fallback to defaults, then
// signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chuffdetect/callsentry/internal/app"
	"github.com/chuffdetect/callsentry/internal/config"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	xlog.SetDebug(*debug)
	baseLog := xlog.New("main")

	cfg, loaded, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if !loaded {
		baseLog.Printf("config file %s not found, using defaults", *configPath)
	}

	application, err := app.New(cfg, baseLog)
	if err != nil {
		log.Fatalf("failed to construct application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		baseLog.Printf("received shutdown signal")
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("application exited with error: %v", err)
	}
}
