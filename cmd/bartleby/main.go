package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/bartleby/internal/anomaly"
	"github.com/MikeSquared-Agency/bartleby/internal/api"
	"github.com/MikeSquared-Agency/bartleby/internal/config"
	"github.com/MikeSquared-Agency/bartleby/internal/hermes"
	"github.com/MikeSquared-Agency/bartleby/internal/instruction"
	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
	"github.com/MikeSquared-Agency/bartleby/internal/openai"
	"github.com/MikeSquared-Agency/bartleby/internal/policy"
	"github.com/MikeSquared-Agency/bartleby/internal/replay"
	"github.com/MikeSquared-Agency/bartleby/internal/session"
	"github.com/MikeSquared-Agency/bartleby/internal/store"
	"github.com/MikeSquared-Agency/bartleby/internal/zapier"
)

func main() {
	replayDir := flag.String("replay", "", "replay history exports from this directory and exit")
	replayFile := flag.String("replay-file", "", "replay a single history export file and exit")
	replaySince := flag.String("since", "", "only replay commands on or after this date (YYYY-MM-DD)")
	replayUntil := flag.String("until", "", "only replay commands on or before this date (YYYY-MM-DD)")
	replayState := flag.String("state", "", "replay state file location")
	dryRun := flag.Bool("dry-run", false, "replay without recording template outcomes")
	flag.Parse()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if *replayDir != "" || *replayFile != "" {
		os.Exit(runReplay(cfg, replayOptions{
			dir:       *replayDir,
			file:      *replayFile,
			since:     *replaySince,
			until:     *replayUntil,
			statePath: *replayState,
			dryRun:    *dryRun,
		}))
	}

	slog.Info("bartleby starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Zapier connector
	if cfg.ZapierMCPURL == "" {
		slog.Error("ZAPIER_MCP_URL is required")
		os.Exit(1)
	}
	connector := zapier.NewClient(cfg.ZapierMCPURL, cfg.ZapierMCPToken,
		time.Duration(cfg.ConnectorTimeout)*time.Second, slog.Default())
	slog.Info("zapier connector ready", "timeout_seconds", cfg.ConnectorTimeout)

	// OpenAI client (optional — heuristics carry extraction without it)
	var llm *openai.Client
	if cfg.OpenAIAPIKey != "" {
		llm = openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		slog.Info("openai client ready", "model", cfg.OpenAIModel)
	} else {
		slog.Warn("OPENAI_API_KEY not set — extraction runs on local heuristics only")
	}

	// Instruction templates
	table, err := instruction.LoadTable(cfg.TemplatesPath)
	if err != nil {
		slog.Error("failed to load instruction templates", "path", cfg.TemplatesPath, "error", err)
		os.Exit(1)
	}

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Template reliability tracker, warmed from persisted stats
	tracker := policy.NewTracker(db, hermesClient, slog.Default())
	if stats, err := db.ListTemplateStats(ctx); err != nil {
		slog.Warn("failed to load template stats", "error", err)
	} else {
		tracker.Load(stats)
		slog.Info("template stats loaded", "templates", len(stats))
	}

	detector := anomaly.NewDetector(tracker, hermesClient, slog.Default())

	// Session engine — the main pipeline
	engine := session.New(
		intent.New(llm, slog.Default()),
		instruction.NewRenderer(table, slog.Default()),
		connector,
		normalize.New(slog.Default()),
		session.Hooks{
			Scores:    tracker,
			Anomalies: detector,
			Turns:     db,
			Events:    hermesClient,
		},
		cfg.HistoryLimit,
		slog.Default(),
	)

	// Commands submitted over the bus
	if err := hermesClient.SubscribeCommands(func(signal hermes.CommandSignal) {
		result := engine.ProcessTurn(ctx, signal.SessionID, signal.Command)
		subject := signal.ResultSubject(result.SessionID)
		if err := hermesClient.Publish(subject, result); err != nil {
			slog.Warn("failed to publish turn result", "subject", subject, "error", err)
		}
	}); err != nil {
		slog.Error("failed to subscribe to command subject", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, engine, db, tracker, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Housekeeping: sweep idle sessions hourly, decay template scores daily.
	go func() {
		sweep := time.NewTicker(time.Hour)
		decay := time.NewTicker(24 * time.Hour)
		defer sweep.Stop()
		defer decay.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				if removed := engine.Sessions().Sweep(4 * time.Hour); removed > 0 {
					slog.Info("idle sessions swept", "removed", removed)
				}
			case <-decay.C:
				tracker.Decay(0.01, 1)
			}
		}
	}()

	// Announce registration
	if err := hermesClient.Publish("crm.agent.bartleby.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("bartleby ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("bartleby stopped")
}

type replayOptions struct {
	dir       string
	file      string
	since     string
	until     string
	statePath string
	dryRun    bool
}

// runReplay executes the offline replay mode and returns the process exit
// code. Extraction stays on local heuristics; the connector is never built.
func runReplay(cfg config.Config, opts replayOptions) int {
	rcfg := replay.Config{
		Dir:        opts.dir,
		SingleFile: opts.file,
		StatePath:  opts.statePath,
		DryRun:     opts.dryRun,
	}
	if opts.since != "" {
		ts, err := time.Parse("2006-01-02", opts.since)
		if err != nil {
			slog.Error("invalid -since date", "value", opts.since, "error", err)
			return 1
		}
		rcfg.Since = ts
	}
	if opts.until != "" {
		ts, err := time.Parse("2006-01-02", opts.until)
		if err != nil {
			slog.Error("invalid -until date", "value", opts.until, "error", err)
			return 1
		}
		rcfg.Until = ts.Add(24*time.Hour - time.Nanosecond)
	}

	table, err := instruction.LoadTable(cfg.TemplatesPath)
	if err != nil {
		slog.Error("failed to load instruction templates", "path", cfg.TemplatesPath, "error", err)
		return 1
	}

	// Outcomes land in the reliability stats when a database is configured.
	var scores replay.OutcomeRecorder
	if !opts.dryRun && cfg.DatabaseURL != "" {
		db, err := store.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			return 1
		}
		defer db.Close()

		tracker := policy.NewTracker(db, nil, slog.Default())
		if stats, err := db.ListTemplateStats(context.Background()); err != nil {
			slog.Warn("failed to load template stats", "error", err)
		} else {
			tracker.Load(stats)
		}
		scores = tracker
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := replay.NewRunner(rcfg,
		intent.New(nil, slog.Default()),
		instruction.NewRenderer(table, slog.Default()),
		scores,
		slog.Default(),
	)
	if err := runner.Run(ctx); err != nil {
		slog.Error("replay failed", "error", err)
		return 1
	}
	return 0
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
