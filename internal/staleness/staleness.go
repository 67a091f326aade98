package staleness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/domain"
	"github.com/tradewind/tradewind/internal/ledger"
	"github.com/tradewind/tradewind/internal/metrics"
	"github.com/tradewind/tradewind/internal/notify"
)

// Publisher accepts fire-and-forget alert messages.
type Publisher interface {
	Publish(text string)
}

// Monitor watches ledger recency for every configured asset on its own
// clock, fully decoupled from the trading loops. A wedged scheduler cannot
// wedge its own watchdog.
type Monitor struct {
	cfg      config.StalenessConfig
	assetIDs []string
	reader   ledger.Reader
	health   ledger.HealthStore
	notifier Publisher
	metrics  *metrics.Registry
}

func NewMonitor(cfg config.StalenessConfig, assets []config.AssetConfig, reader ledger.Reader, health ledger.HealthStore, notifier Publisher, m *metrics.Registry) *Monitor {
	// Only assets meant to trade get watched. A disabled asset stops
	// producing records on purpose and must not alert forever.
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		if !a.Enabled {
			continue
		}
		ids = append(ids, a.ID)
	}
	return &Monitor{
		cfg:      cfg,
		assetIDs: ids,
		reader:   reader,
		health:   health,
		notifier: notifier,
		metrics:  m,
	}
}

// Run checks all assets once per interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().Dur("interval", m.cfg.CheckInterval.Std()).Msg("staleness monitor started")
	defer log.Info().Msg("staleness monitor stopped")

	ticker := time.NewTicker(m.cfg.CheckInterval.Std())
	defer ticker.Stop()

	m.CheckOnce(ctx, time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.CheckOnce(ctx, now.UTC())
		}
	}
}

// CheckOnce classifies every asset as of now. Exposed for tests and for the
// check CLI command.
func (m *Monitor) CheckOnce(ctx context.Context, now time.Time) {
	for _, id := range m.assetIDs {
		if err := m.checkAsset(ctx, id, now); err != nil {
			log.Warn().Err(err).Str("asset", id).Msg("staleness check failed")
		}
	}
}

// Classify maps record age onto a health state.
func (m *Monitor) Classify(age time.Duration) domain.HealthState {
	switch {
	case age < m.cfg.AgingAfter.Std():
		return domain.HealthFresh
	case age < m.cfg.StaleAfter.Std():
		return domain.HealthAging
	default:
		return domain.HealthStale
	}
}

func (m *Monitor) checkAsset(ctx context.Context, assetID string, now time.Time) error {
	last, err := m.reader.ReadLastTimestamp(ctx, assetID)
	if err != nil {
		return fmt.Errorf("reading last timestamp: %w", err)
	}
	if last.IsZero() {
		// Never traded yet; there is nothing meaningful to classify.
		log.Debug().Str("asset", assetID).Msg("no ledger records yet, skipping staleness check")
		return nil
	}

	age := now.Sub(last)
	state := m.Classify(age)
	if m.metrics != nil {
		m.metrics.RecordHealth(assetID, state, age)
	}

	prev, err := m.health.ReadHealth(ctx, assetID)
	if err != nil {
		return fmt.Errorf("reading health: %w", err)
	}

	next := domain.AssetHealth{AssetID: assetID, LastRecord: last, State: state}
	if prev != nil {
		next.LastAlert = prev.LastAlert
	}

	switch {
	case state == domain.HealthStale:
		// Alert once, then stay quiet for the suppression window.
		if next.LastAlert.IsZero() || now.Sub(next.LastAlert) >= m.cfg.AlertSuppression.Std() {
			m.alert(notify.FormatStaleness(assetID, state, last, now))
			next.LastAlert = now
		}
	case prev != nil && prev.State == domain.HealthStale:
		// Recovered: clear suppression so the next stale episode alerts
		// immediately, and say so.
		m.alert(fmt.Sprintf(":heavy_check_mark: *%s* recovered: new record %s ago",
			strings.ToUpper(assetID), age.Round(time.Minute)))
		next.LastAlert = time.Time{}
	}

	if err := m.health.UpsertHealth(ctx, next); err != nil {
		return fmt.Errorf("persisting health: %w", err)
	}

	log.Debug().Str("asset", assetID).Str("state", string(state)).Dur("age", age).Msg("staleness classified")
	return nil
}

func (m *Monitor) alert(text string) {
	if m.notifier != nil {
		m.notifier.Publish(text)
	}
}
