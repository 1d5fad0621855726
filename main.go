// Command streambot is the multi-tenant Twitch chat bot. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Onboards every enabled broadcaster: chat membership, command modules,
//     timers, and OAuth token refresh.
//   - Exposes an HTTP server with the OAuth flow, the EventSub webhook, the
//     widget WebSocket endpoint, /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/streambot/bot"
	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/events"
	"github.com/onnwee/streambot/oauth"
	"github.com/onnwee/streambot/server"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
	"github.com/onnwee/streambot/widget"
	"github.com/onnwee/streambot/youtubeapi"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
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
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streambot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			HTTPClient:   httpClient,
		},
		ClientID:   cfg.TwitchClientID,
		HTTPClient: httpClient,
	}

	var lookup youtubeapi.Lookup
	if cfg.YTAPIKey != "" {
		yt, err := youtubeapi.New(ctx, cfg.YTAPIKey)
		if err != nil {
			slog.Error("youtube service init failed", slog.Any("err", err))
			os.Exit(1)
		}
		lookup = yt
	} else {
		slog.Info("YT_API_KEY not set, song request lookups disabled")
	}

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("chat credentials missing", slog.Any("err", err))
		os.Exit(1)
	}
	// EventSub is optional, but when either half is configured both the
	// secret and the callback URL must be present.
	if cfg.EventSubSecret != "" || cfg.EventSubCallbackURL != "" {
		if err := cfg.ValidateEventSubReady(); err != nil {
			slog.Error("eventsub misconfigured", slog.Any("err", err))
			os.Exit(1)
		}
	}
	chatMgr := chat.NewManager(cfg.TwitchBotUsername, cfg.TwitchBotOAuth)

	hub := widget.NewHub()
	defer hub.Stop()
	tokens := widget.NewTokens()
	bus := events.NewBus()

	b := bot.New(bot.Options{
		Cfg:       cfg,
		DB:        database,
		Chat:      chatMgr,
		Hub:       hub,
		Bus:       bus,
		Helix:     helix,
		Lookup:    lookup,
		HTTP:      httpClient,
		Version:   version,
		BuildDate: buildDate,
	})
	if err := b.Start(ctx); err != nil {
		slog.Error("bot start failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		if err := chatMgr.Run(ctx); err != nil {
			slog.Error("chat connection exited", slog.Any("err", err))
			stop()
		}
	}()

	// Centralized OAuth token refresher for all broadcasters.
	oauth.StartRefresher(ctx, database, 5*time.Minute, 15*time.Minute,
		oauth.TwitchRefreshFunc(httpClient, "", cfg.TwitchClientID, cfg.TwitchClientSecret))

	var flow *twitchapi.OAuthFlow
	if cfg.TwitchClientID != "" && cfg.TwitchRedirectURI != "" {
		flow = twitchapi.NewOAuthFlow(cfg.TwitchClientID, cfg.TwitchClientSecret,
			cfg.TwitchRedirectURI, strings.Fields(cfg.TwitchScopes), "")
	}
	go func() {
		deps := server.Deps{
			DB:       database,
			Cfg:      cfg,
			Bus:      bus,
			Hub:      hub,
			Tokens:   tokens,
			Flow:     flow,
			Helix:    helix,
			Dispatch: b.Dispatcher(),
			Users:    b,
		}
		if err := server.Start(ctx, deps, cfg.ListenAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
