package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/EloWard/EloWardBot/internal/bot"
	"github.com/EloWard/EloWardBot/internal/config"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(&log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
		log = log.Level(zerolog.InfoLevel)
	}

	manager, err := bot.NewManager(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create manager")
	}

	if err = manager.Open(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	log.Info().Int("shards", cfg.ShardCount).Msg("EloWardBot is running, ^C to stop")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	manager.Close()
}
