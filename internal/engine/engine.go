// Package engine wires the point sources, tract aggregator, nearby feed,
// update panel, reaction ledger and notification queue into one running
// controller.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-pulsemap/internal/config"
	"github.com/mr1hm/go-pulsemap/internal/ingestion"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
	"github.com/mr1hm/go-pulsemap/internal/proximity"
	"github.com/mr1hm/go-pulsemap/internal/queue"
	"github.com/mr1hm/go-pulsemap/internal/reactions"
	"github.com/mr1hm/go-pulsemap/internal/tracts"
	"github.com/mr1hm/go-pulsemap/internal/updates"
	"github.com/mr1hm/go-pulsemap/internal/worker"
)

// ErrNoAnchor is returned by operations that need an anchor before one is set.
var ErrNoAnchor = errors.New("no anchor set")

// Remote is everything the engine needs from the backend.
type Remote interface {
	tracts.Fetcher
	ingestion.Fetcher
	updates.Source
	reactions.Remote
}

type Deps struct {
	Remote    Remote
	Store     queue.KV
	SessionID string
	Metrics   *observability.Metrics
	// Clock drives the queue's leave delay; nil uses the real clock.
	Clock clockwork.Clock
}

type hydrateJob struct {
	ids []string
}

type Engine struct {
	cfg *config.Config

	Sources   *ingestion.Manager
	Tracts    *tracts.Aggregator
	Nearby    *proximity.Feed
	Panel     *updates.Panel
	Reactions *reactions.Ledger
	Queue     *queue.Queue

	hydrator *worker.Pool[hydrateJob]
	pending  sync.WaitGroup
	cron     *cron.Cron

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
}

func New(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		cfg:       cfg,
		sessionID: deps.SessionID,
		cron:      cron.New(),
	}

	e.Sources = ingestion.NewManager(cfg, deps.Remote, deps.Metrics)
	e.Tracts = tracts.NewAggregator(deps.Remote, e.Sources, cfg.Tracts.MinZoom, deps.Metrics)
	e.Nearby = proximity.NewFeed(deps.Remote, proximity.Options{
		RadiusMiles: cfg.Proximity.RadiusMiles,
		Limit:       cfg.Proximity.Limit,
		MaxAgeHours: cfg.Proximity.MaxAgeHours,
	}, deps.Metrics)
	e.Reactions = reactions.NewLedger(deps.Remote, deps.SessionID, deps.Metrics)
	e.Queue = queue.New(
		e.Reactions,
		queue.NewSeenSet(deps.Store, cfg.Queue.SeenNamespace, deps.SessionID),
		queue.Options{Limit: cfg.Queue.Limit, LeaveDelay: cfg.Queue.LeaveDelay, Clock: deps.Clock},
		deps.Metrics,
	)
	e.Panel = updates.NewPanel(deps.Remote, updates.PanelOptions{
		LocalRadiusMiles: cfg.Panel.LocalRadiusMiles,
		LocalMaxAgeHours: cfg.Panel.LocalMaxAgeHours,
		LocalLimit:       cfg.Panel.LocalLimit,
		GlobalLimit:      cfg.Panel.GlobalLimit,
	}, e.hydrate)

	e.hydrator = worker.NewPool[hydrateJob]("hydrator", cfg.Worker.Count, cfg.Worker.BufferSize, e.processHydrate)

	e.Sources.OnChange(func(kind models.SourceKind) {
		e.Tracts.PointsChanged(context.Background())
	})
	e.Reactions.OnChange(func(reactions.Change) {
		e.Queue.ReactionsChanged()
	})
	e.Nearby.OnResult(func(r proximity.Result) {
		// a failed fetch publishes no items, so the queue empties
		e.Queue.SetCandidates(r.Items)
		e.hydrate(r.Items)
	})

	return e
}

// Start launches the pollers, the hydration workers and the periodic
// nearby refresh. Everything stops when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.hydrator.Start(ctx)
	e.Sources.Start(ctx)

	if spec := e.cfg.Proximity.Refresh; spec != "" {
		if _, err := e.Nearby.Schedule(e.cron, spec); err != nil {
			cancel()
			return err
		}
	}
	e.cron.Start()

	slog.Info("engine started", "session", e.SessionID())
	return nil
}

// Stop halts background work and waits for in-flight passes to finish.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.Sources.Stop()
	e.Nearby.Close()
	e.Tracts.Close()
	e.hydrator.Stop()
	e.Reactions.Close()
	e.Queue.Shutdown()
	slog.Info("engine stopped")
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// SetSession switches the reaction session and the seen namespace, then
// rebuilds the queue against the new namespace.
func (e *Engine) SetSession(id string) {
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
	e.Reactions.SetSession(id)
	e.Queue.SetSession(id)
}

func (e *Engine) SetViewport(ctx context.Context, vp tracts.Viewport) uint64 {
	return e.Tracts.SetViewport(ctx, vp)
}

// SetAnchor moves the anchor and refetches nearby candidates for it.
func (e *Engine) SetAnchor(ctx context.Context, anchor models.Coordinates) uint64 {
	return e.Nearby.SetAnchor(ctx, anchor)
}

// LoadUpdates reloads the panel list for tab. The local tab uses the
// current anchor.
func (e *Engine) LoadUpdates(ctx context.Context, tab updates.Tab) ([]models.UpdateItem, error) {
	switch tab {
	case updates.TabGlobal:
		if err := e.Panel.LoadGlobal(ctx); err != nil {
			return nil, err
		}
	default:
		anchor, ok := e.Nearby.Anchor()
		if !ok {
			return nil, ErrNoAnchor
		}
		if err := e.Panel.LoadLocal(ctx, anchor); err != nil {
			return nil, err
		}
	}
	return e.Panel.Items(tab), nil
}

// Settle waits for in-flight tract passes, nearby fetches and hydration
// jobs. It is meant for one-shot runs and tests.
func (e *Engine) Settle() {
	e.Tracts.Wait()
	e.Nearby.Wait()
	e.pending.Wait()
}

func (e *Engine) hydrate(items []models.UpdateItem) {
	ids := updates.RIDs(items)
	if len(ids) == 0 {
		return
	}
	e.pending.Add(1)
	if !e.hydrator.TrySubmit(hydrateJob{ids: ids}) {
		e.pending.Done()
	}
}

func (e *Engine) processHydrate(ctx context.Context, job hydrateJob) error {
	defer e.pending.Done()
	return e.Reactions.Hydrate(ctx, job.ids)
}
