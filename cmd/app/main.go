package main

import (
	"context"
	"flag"
	"log"
	"os"

	"StreamPull/internal/di"
	"StreamPull/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	once := flag.Bool("once", false, "fetch every feed once, print the reports and exit")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		os.Exit(1)
	}

	if *once {
		run, err := di.InitializeOneShot(cfg)
		if err != nil {
			log.Printf("initialization failed: %v", err)
			os.Exit(1)
		}
		if err := run.Run(context.Background(), os.Stdout, os.Stderr); err != nil {
			os.Exit(1)
		}
		return
	}

	log.Printf("env=%s backend=%s mode=%s", cfg.Environment, cfg.Backend.Type, cfg.Mode())

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		os.Exit(1)
	}

	// Run application (blocks until signal)
	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
