package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/decision"
	"github.com/tradewind/tradewind/internal/exchange"
	"github.com/tradewind/tradewind/internal/executor"
	httpapi "github.com/tradewind/tradewind/internal/interfaces/http"
	"github.com/tradewind/tradewind/internal/ledger/postgres"
	"github.com/tradewind/tradewind/internal/market"
	"github.com/tradewind/tradewind/internal/metrics"
	"github.com/tradewind/tradewind/internal/net/ratelimit"
	"github.com/tradewind/tradewind/internal/news"
	"github.com/tradewind/tradewind/internal/notify"
	"github.com/tradewind/tradewind/internal/orchestrator"
	"github.com/tradewind/tradewind/internal/retry"
	"github.com/tradewind/tradewind/internal/scheduler"
	"github.com/tradewind/tradewind/internal/staleness"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run trading loops for all enabled assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	reg := metrics.NewRegistry()
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.Retry.BackoffBase.Std(),
		BackoffCap:  cfg.Retry.BackoffCap.Std(),
		StepTimeout: cfg.Retry.StepTimeout.Std(),
	}

	limiter := ratelimit.NewLimiter(cfg.Exchange.RatePerSecond, cfg.Exchange.Burst)
	ex, err := exchange.NewRESTClient(cfg.Exchange.BaseURL, limiter)
	if err != nil {
		return err
	}

	var feed *exchange.TickerFeed
	if cfg.Exchange.WebsocketURL != "" {
		pairs := make([]string, 0, len(cfg.Assets))
		for _, a := range cfg.Assets {
			if a.Enabled {
				pairs = append(pairs, a.Pair)
			}
		}
		feed = exchange.NewTickerFeed(cfg.Exchange.WebsocketURL, pairs)
		go feed.Run(ctx)
	}

	decisionKey := os.Getenv(cfg.Decision.APIKeyEnv)
	if decisionKey == "" {
		return fmt.Errorf("decision service API key missing: set %s", cfg.Decision.APIKeyEnv)
	}
	decider := decision.NewClient(cfg.Decision.BaseURL, cfg.Decision.Model, decisionKey, cfg.Decision.Timeout.Std())

	store, err := postgres.Open(cfg.Store.DSN, cfg.Store.QueryTimeout.Std())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	var newsSource news.Source
	if cfg.News.BaseURL != "" {
		cache := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer cache.Close()
		fetcher, err := news.NewFetcher(cfg.News.BaseURL, os.Getenv(cfg.News.APIKeyEnv),
			cfg.News.MaxArticles, cfg.News.FetchInterval.Std(), limiter, cache)
		if err != nil {
			return err
		}
		newsSource = fetcher
	}

	var notifier *notify.Notifier
	if cfg.Notifier.WebhookURL != "" {
		notifier = notify.NewNotifier(notify.NewSlackWebhook(cfg.Notifier.WebhookURL), cfg.Notifier.QueueSize)
	} else {
		notifier = notify.NewNotifier(nil, cfg.Notifier.QueueSize)
	}
	notifier.OnDrop = reg.NotificationsDropped.Inc
	notifier.Start()
	defer notifier.Close()

	var priceFeed market.PriceSource
	if feed != nil {
		priceFeed = feed
	}
	deps := scheduler.Deps{
		Market:   market.NewFetcher(ex, priceFeed, newsSource, store),
		Decision: decider,
		Executor: executor.New(ex, cfg.Exchange.FeeBuffer, cfg.Exchange.FillTimeout.Std()),
		Ledger:   store,
		Notifier: notifier,
		Metrics:  reg,
	}

	orch := orchestrator.New(policy, deps)
	if orch.Admit(cfg.Assets) == 0 {
		return fmt.Errorf("no valid assets to trade")
	}
	orch.StartAll()

	monitor := staleness.NewMonitor(cfg.Staleness, cfg.Assets, store, store, notifier, reg)
	go monitor.Run(ctx)

	server, err := httpapi.NewServer(
		httpapi.DefaultServerConfig(cfg.HTTP.Host, cfg.HTTP.Port),
		orch, store, store, reg,
		map[string]func() string{
			"exchange_breaker": ex.BreakerState,
			"rate_limiter":     func() string { return limiterStatus(limiter) },
		},
	)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("dashboard API failed")
		}
	}()

	log.Info().Int("assets", len(cfg.Assets)).Str("api", server.Address()).Msg("tradewind running")
	<-ctx.Done()

	log.Info().Msg("shutdown requested, stopping asset loops")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Retry.StepTimeout.Std())
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	orch.Shutdown()
	return nil
}

// limiterStatus summarizes per-host limiter state for the /health endpoint.
func limiterStatus(l *ratelimit.Limiter) string {
	stats := l.Stats()
	if len(stats) == 0 {
		return "idle"
	}
	parts := make([]string, 0, len(stats))
	for host, s := range stats {
		state := "ok"
		if s.IsThrottled() {
			state = "throttled " + s.Delay.Round(time.Millisecond).String()
		}
		parts = append(parts, fmt.Sprintf("%s %.0f/%d tokens %s", host, s.TokensAvailable, s.Burst, state))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
