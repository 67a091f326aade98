package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/ledger/postgres"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report per-asset ledger recency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.Context())
		},
	}
}

func check(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	valid := 0
	for _, a := range cfg.Assets {
		if err := a.Validate(); err != nil {
			log.Error().Err(err).Str("asset", a.ID).Msg("invalid asset configuration")
			continue
		}
		valid++
	}
	fmt.Printf("config: %d/%d assets valid\n", valid, len(cfg.Assets))

	store, err := postgres.Open(cfg.Store.DSN, cfg.Store.QueryTimeout.Std())
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	for _, a := range cfg.Assets {
		last, err := store.ReadLastTimestamp(ctx, a.ID)
		switch {
		case err != nil:
			fmt.Printf("%-12s ledger error: %v\n", a.ID, err)
		case last.IsZero():
			fmt.Printf("%-12s no records yet\n", a.ID)
		default:
			fmt.Printf("%-12s last cycle %s (%s ago)\n", a.ID,
				last.Format(time.RFC3339), now.Sub(last).Round(time.Minute))
		}
	}
	return nil
}
