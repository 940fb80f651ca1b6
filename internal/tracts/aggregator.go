// Package tracts turns a viewport and the current point sources into a
// severity-colored tract overlay.
//
// Every refresh takes a new token and cancels the pass holding the previous
// one. A pass only replaces the overlay if its token is still the latest,
// so a slow response can never overwrite a newer viewport.
package tracts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-pulsemap/internal/broadcast"
	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
)

// DefaultMinZoom is the zoom level below which no tracts are shown.
const DefaultMinZoom = 11

type Fetcher interface {
	Tracts(ctx context.Context, bbox geo.BBox) (*geojson.FeatureCollection, error)
}

type PointSource interface {
	Points() []models.PointFeature
}

type Viewport struct {
	Zoom   float64   `json:"zoom"`
	Bounds *geo.BBox `json:"bounds,omitempty"`
}

// Overlay is an immutable snapshot of the applied tracts.
type Overlay struct {
	Token   uint64         `json:"token"`
	Bounds  *geo.BBox      `json:"bounds,omitempty"`
	Tracts  []models.Tract `json:"-"`
	Cleared bool           `json:"cleared"`
}

type Aggregator struct {
	fetcher Fetcher
	points  PointSource
	minZoom float64
	metrics *observability.Metrics
	bc      *broadcast.Broadcaster[Overlay]

	mu       sync.Mutex
	viewport Viewport
	token    uint64
	cancel   context.CancelFunc
	overlay  Overlay

	wg sync.WaitGroup
}

func NewAggregator(fetcher Fetcher, points PointSource, minZoom float64, metrics *observability.Metrics) *Aggregator {
	if minZoom <= 0 {
		minZoom = DefaultMinZoom
	}
	return &Aggregator{
		fetcher: fetcher,
		points:  points,
		minZoom: minZoom,
		metrics: metrics,
		bc:      broadcast.New[Overlay](16),
	}
}

// SetViewport records the viewport and starts a new pass.
func (a *Aggregator) SetViewport(ctx context.Context, vp Viewport) uint64 {
	if vp.Bounds != nil {
		b := *vp.Bounds
		vp.Bounds = &b
	}
	a.mu.Lock()
	a.viewport = vp
	a.mu.Unlock()
	return a.Refresh(ctx)
}

// PointsChanged starts a new pass for the current viewport.
func (a *Aggregator) PointsChanged(ctx context.Context) uint64 {
	return a.Refresh(ctx)
}

// Refresh supersedes any in-flight pass and returns the new token. Below
// the minimum zoom, or without bounds, the overlay is cleared before
// Refresh returns and nothing is fetched. Passes are not tied to ctx
// cancellation; they end when superseded or on Close.
func (a *Aggregator) Refresh(ctx context.Context) uint64 {
	a.mu.Lock()
	a.token++
	token := a.token
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	vp := a.viewport
	if vp.Zoom < a.minZoom || vp.Bounds == nil {
		a.overlay = Overlay{Token: token, Cleared: true}
		ov := a.overlay
		a.mu.Unlock()

		a.observe("cleared", ov)
		a.bc.Broadcast(ov)
		return token
	}

	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	bounds := *vp.Bounds
	a.wg.Add(1)
	a.mu.Unlock()

	go a.run(passCtx, cancel, token, bounds)
	return token
}

func (a *Aggregator) run(ctx context.Context, cancel context.CancelFunc, token uint64, bounds geo.BBox) {
	defer a.wg.Done()
	defer cancel()

	start := time.Now()
	fc, err := a.fetcher.Tracts(ctx, bounds)
	if ctx.Err() != nil {
		a.observe("superseded", Overlay{})
		return
	}
	if err != nil {
		slog.Warn("tract fetch failed, keeping previous overlay", "token", token, "bbox", bounds.String(), "error", err)
		a.observe("failed", Overlay{})
		return
	}

	tracts := Rank(fc, CandidatePoints(a.points.Points(), bounds))

	a.mu.Lock()
	if a.token != token {
		a.mu.Unlock()
		a.observe("superseded", Overlay{})
		return
	}
	a.overlay = Overlay{Token: token, Bounds: &bounds, Tracts: tracts}
	ov := a.overlay
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	}
	a.observe("applied", ov)
	slog.Debug("overlay applied", "token", token, "tracts", len(tracts))
	a.bc.Broadcast(ov)
}

func (a *Aggregator) observe(outcome string, ov Overlay) {
	if a.metrics == nil {
		return
	}
	a.metrics.AggregationPasses.WithLabelValues(outcome).Inc()
	if outcome != "applied" && outcome != "cleared" {
		return
	}
	counts := map[models.SeverityRank]int{}
	for _, t := range ov.Tracts {
		counts[t.Rank]++
	}
	for _, r := range []models.SeverityRank{models.RankLow, models.RankMedium, models.RankHigh, models.RankNone} {
		a.metrics.OverlayTracts.WithLabelValues(r.String()).Set(float64(counts[r]))
	}
}

// Overlay returns the currently applied overlay.
func (a *Aggregator) Overlay() Overlay {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overlay
}

func (a *Aggregator) Viewport() Viewport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewport
}

// Wait blocks until every started pass has finished.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

func (a *Aggregator) Subscribe() (uint64, <-chan Overlay) {
	return a.bc.Subscribe()
}

func (a *Aggregator) Unsubscribe(id uint64) {
	a.bc.Unsubscribe(id)
}

// Close cancels the in-flight pass, waits for it and closes subscriptions.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.mu.Unlock()
	a.wg.Wait()
	a.bc.Close()
}
