package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/config"
	"github.com/tradewind/tradewind/internal/retry"
	"github.com/tradewind/tradewind/internal/scheduler"
)

// AssetStatus is one asset's runtime view for the dashboard API.
type AssetStatus struct {
	ID      string          `json:"id"`
	Pair    string          `json:"pair"`
	Running bool            `json:"running"`
	State   scheduler.State `json:"state"`
}

type managedAsset struct {
	cfg   config.AssetConfig
	sched *scheduler.AssetScheduler

	running bool
	// stopping stays set from the stop request until the loop has actually
	// exited, so a start arriving mid-stop cannot launch a second loop.
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Orchestrator owns the lifecycle of all per-asset schedulers: admission at
// startup, start/stop at runtime, and graceful shutdown. Assets run fully
// independently; one asset's failure never touches another's loop.
type Orchestrator struct {
	policy retry.Policy
	deps   scheduler.Deps

	mu     sync.Mutex
	assets map[string]*managedAsset
}

func New(policy retry.Policy, deps scheduler.Deps) *Orchestrator {
	return &Orchestrator{
		policy: policy,
		deps:   deps,
		assets: make(map[string]*managedAsset),
	}
}

// Admit validates and registers asset configurations. Invalid assets are
// logged once and never enter the active set; they cannot take the rest of
// the run down. Returns the number admitted.
func (o *Orchestrator) Admit(assets []config.AssetConfig) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	admitted := 0
	for _, a := range assets {
		if err := a.Validate(); err != nil {
			log.Error().Err(err).Str("asset", a.ID).Msg("asset configuration rejected")
			continue
		}
		o.assets[a.ID] = &managedAsset{
			cfg:   a,
			sched: scheduler.New(a, o.policy, o.deps),
		}
		admitted++
	}
	log.Info().Int("admitted", admitted).Int("rejected", len(assets)-admitted).Msg("asset admission complete")
	return admitted
}

// StartAll starts every admitted asset that is enabled in configuration.
func (o *Orchestrator) StartAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.assets))
	for id, a := range o.assets {
		if a.cfg.Enabled {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.StartAsset(id); err != nil {
			log.Error().Err(err).Str("asset", id).Msg("failed to start asset")
		}
	}
}

// StartAsset launches the scheduler loop for one admitted asset.
func (o *Orchestrator) StartAsset(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	a, ok := o.assets[id]
	if !ok {
		return fmt.Errorf("unknown asset %q", id)
	}
	if a.running {
		return fmt.Errorf("asset %q is already running", id)
	}
	if a.stopping {
		return fmt.Errorf("asset %q is still stopping", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go func(a *managedAsset) {
		defer close(a.done)
		a.sched.Run(ctx)
	}(a)

	return nil
}

// StopAsset requests a stop and waits for the asset's loop to exit. An
// in-flight cycle finishes its current step first.
func (o *Orchestrator) StopAsset(id string) error {
	o.mu.Lock()
	a, ok := o.assets[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown asset %q", id)
	}
	if !a.running {
		o.mu.Unlock()
		return fmt.Errorf("asset %q is not running", id)
	}
	a.running = false
	a.stopping = true
	cancel, done := a.cancel, a.done
	o.mu.Unlock()

	cancel()
	<-done

	o.mu.Lock()
	a.stopping = false
	o.mu.Unlock()
	return nil
}

// Shutdown stops all running assets and blocks until every loop has exited.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	var stopped []*managedAsset
	for _, a := range o.assets {
		if a.running {
			a.running = false
			a.stopping = true
			a.cancel()
			stopped = append(stopped, a)
		}
	}
	o.mu.Unlock()

	for _, a := range stopped {
		<-a.done
	}

	o.mu.Lock()
	for _, a := range stopped {
		a.stopping = false
	}
	o.mu.Unlock()
	log.Info().Msg("orchestrator shut down")
}

// Status reports all admitted assets, running or not.
func (o *Orchestrator) Status() []AssetStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]AssetStatus, 0, len(o.assets))
	for _, a := range o.assets {
		statuses = append(statuses, AssetStatus{
			ID:      a.cfg.ID,
			Pair:    a.cfg.Pair,
			Running: a.running,
			State:   a.sched.State(),
		})
	}
	return statuses
}

// Asset returns the configuration of one admitted asset.
func (o *Orchestrator) Asset(id string) (config.AssetConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.assets[id]
	if !ok {
		return config.AssetConfig{}, false
	}
	return a.cfg, true
}
