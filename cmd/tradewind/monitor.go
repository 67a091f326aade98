package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradewind/tradewind/internal/config"
	httpapi "github.com/tradewind/tradewind/internal/interfaces/http"
	"github.com/tradewind/tradewind/internal/ledger/postgres"
	"github.com/tradewind/tradewind/internal/orchestrator"
	"github.com/tradewind/tradewind/internal/scheduler"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Serve the read-only dashboard API over the ledger, without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return monitor(cmd.Context())
		},
	}
}

func monitor(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	store, err := postgres.Open(cfg.Store.DSN, cfg.Store.QueryTimeout.Std())
	if err != nil {
		return err
	}
	defer store.Close()

	dir := readOnlyAssets{assets: make(map[string]config.AssetConfig, len(cfg.Assets))}
	for _, a := range cfg.Assets {
		dir.assets[a.ID] = a
	}

	server, err := httpapi.NewServer(
		httpapi.DefaultServerConfig(cfg.HTTP.Host, cfg.HTTP.Port),
		dir, store, store, nil, nil,
	)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("dashboard API failed")
		}
	}()

	log.Info().Str("api", server.Address()).Msg("monitor running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Store.QueryTimeout.Std())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// readOnlyAssets backs the dashboard control surface when no trading loops
// exist in this process. Start and stop are rejected.
type readOnlyAssets struct {
	assets map[string]config.AssetConfig
}

func (r readOnlyAssets) Status() []orchestrator.AssetStatus {
	statuses := make([]orchestrator.AssetStatus, 0, len(r.assets))
	for _, a := range r.assets {
		statuses = append(statuses, orchestrator.AssetStatus{
			ID:    a.ID,
			Pair:  a.Pair,
			State: scheduler.StateIdle,
		})
	}
	return statuses
}

func (r readOnlyAssets) Asset(id string) (config.AssetConfig, bool) {
	a, ok := r.assets[id]
	return a, ok
}

func (r readOnlyAssets) StartAsset(string) error {
	return fmt.Errorf("monitor is read-only: run the trading daemon to control assets")
}

func (r readOnlyAssets) StopAsset(string) error {
	return fmt.Errorf("monitor is read-only: run the trading daemon to control assets")
}
