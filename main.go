// Package main provides the entry point for the fumblebot Discord bot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/fumblebot/fumblebot/internal/app"
	"github.com/fumblebot/fumblebot/internal/bot"
	"github.com/fumblebot/fumblebot/internal/commands"
	"github.com/fumblebot/fumblebot/internal/config"
	"github.com/fumblebot/fumblebot/internal/dice"
	"github.com/fumblebot/fumblebot/internal/discord"
	"github.com/fumblebot/fumblebot/internal/infrastructure"
	"github.com/fumblebot/fumblebot/internal/llm"
	"github.com/fumblebot/fumblebot/internal/openai"
	"github.com/fumblebot/fumblebot/internal/voice"
	pkginfra "github.com/fumblebot/fumblebot/pkg/infrastructure"
)

func main() {
	configPath := "config.yaml"
	if p := os.Getenv("FUMBLEBOT_CONFIG"); p != "" {
		configPath = p
	}

	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,

		// External service modules
		discord.Module,
		openai.Module,

		// Application modules
		dice.Module,
		llm.Module,
		voice.Module,
		commands.Module,
		bot.Module,

		fx.Supply(configPath),

		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go application.Run()

	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("fumblebot has shut down gracefully.")
}
