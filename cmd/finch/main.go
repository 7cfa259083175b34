package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"finch-controller/internal/agent"
	"finch-controller/internal/config"
	"finch-controller/internal/console"
	"finch-controller/internal/logging"
	"finch-controller/internal/routine"

	log "github.com/sirupsen/logrus"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON or YAML config file")
	interactive := flag.Bool("console", false, "run the interactive console instead of the agent")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	log.Printf("Starting Finch Controller version: %s, commit: %s, built: %s", version, commit, date)

	dev, err := newDevice(cfg.Device)
	if err != nil {
		log.Fatalf("Failed to create device: %v", err)
	}

	if *interactive {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		c := console.New(os.Stdin, os.Stdout, dev, routine.NewEngine(cfg.RoutinesDir))
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Console error: %v", err)
		}
		return
	}

	a, err := agent.NewAgent(cfg, dev)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	go a.Run()

	// Wait for termination signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")
	a.Shutdown()
	log.Println("Agent shut down gracefully.")
}
