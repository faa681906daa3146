// Command renai runs the chat companion: the resolver worker, the Twitch chat
// bridge with its idle-conversation scheduler, and the HTTP page and API.
// It:
//   - Loads configuration (config.json, .env and environment) and initializes
//     structured logging.
//   - Opens the response cache (JSON file or Postgres) and the persona file.
//   - Starts the resolver worker, the chat receive loop and scheduler when chat
//     credentials are present, and the HTTP server.
//
// Subcommands "ask" and "cache list" resolve a single prompt and inspect the
// cache without starting any long-running component.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/renai/config"
	"github.com/onnwee/renai/telemetry"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "renai",
		Short:         "RenAI chat companion: web page, Twitch chat bridge and resolver",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the JSON config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			slog.Error("config load failed", slog.Any("err", err))
			return nil, err
		}
		return cfg, nil
	}

	serveCmd := newServeCmd(load)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(
		serveCmd,
		newAskCmd(load),
		newCacheCmd(load),
	)
	return rootCmd
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// initTelemetry registers metrics and starts tracing when an OTLP endpoint is
// configured. The returned func flushes spans.
func initTelemetry() (func(), error) {
	telemetry.Init()
	shutdown, err := telemetry.InitTracing("renai", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return nil, err
	}
	return shutdown, nil
}
