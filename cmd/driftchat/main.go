package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"driftchat/internal/app"
	"driftchat/pkg/config"
	"driftchat/pkg/logger"
	"driftchat/pkg/shutdown"
)

// version is set via ldflags during release builds.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	fl := config.ParseCommandFlags()
	cfg, err := config.LoadEffective(fl)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level)

	a, err := app.New(cfg, version)
	if err != nil {
		// --ssl without cert/key lands here: startup-time fatal, not a
		// core-engine error
		log.Fatalf("startup failed: %v", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("broker exited: %v", err)
	}
}
