package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-pulsemap/internal/client"
	"github.com/mr1hm/go-pulsemap/internal/config"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
)

// Fetcher is the part of the remote client the pollers use.
type Fetcher interface {
	Reports(ctx context.Context) (*geojson.FeatureCollection, error)
	Feed(ctx context.Context, kind client.FeedKind) (*geojson.FeatureCollection, error)
}

type source struct {
	kind     models.SourceKind
	interval time.Duration
	fetch    func(ctx context.Context) (*geojson.FeatureCollection, error)
	extract  func(fc *geojson.FeatureCollection) []models.PointFeature
}

// pointOrder is the order Points flattens sources in.
var pointOrder = []models.SourceKind{
	models.SourceReport,
	models.SourceNWS,
	models.SourceQuake,
	models.SourceEONET,
	models.SourceFire,
}

// Manager polls the point sources and keeps the latest points of each.
// A failed poll keeps the previous points for that source.
type Manager struct {
	sources []source
	metrics *observability.Metrics

	mu        sync.RWMutex
	points    map[models.SourceKind][]models.PointFeature
	listeners []func(kind models.SourceKind)

	wg sync.WaitGroup
}

func NewManager(cfg *config.Config, fetcher Fetcher, metrics *observability.Metrics) *Manager {
	feed := func(kind client.FeedKind) func(ctx context.Context) (*geojson.FeatureCollection, error) {
		return func(ctx context.Context) (*geojson.FeatureCollection, error) {
			return fetcher.Feed(ctx, kind)
		}
	}
	natural := func(kind models.SourceKind) func(*geojson.FeatureCollection) []models.PointFeature {
		return func(fc *geojson.FeatureCollection) []models.PointFeature {
			return NaturalPoints(fc, kind)
		}
	}

	s := cfg.Sources
	var sources []source
	if s.ReportsEnabled {
		sources = append(sources, source{models.SourceReport, s.ReportsPollInterval, fetcher.Reports, ReportPoints})
	}
	if s.NWSEnabled {
		sources = append(sources, source{models.SourceNWS, s.NWSPollInterval, feed(client.FeedNWS), AlertPoints})
	}
	if s.USGSEnabled {
		sources = append(sources, source{models.SourceQuake, s.USGSPollInterval, feed(client.FeedUSGS), natural(models.SourceQuake)})
	}
	if s.EONETEnabled {
		sources = append(sources, source{models.SourceEONET, s.EONETPollInterval, feed(client.FeedEONET), natural(models.SourceEONET)})
	}
	if s.FIRMSEnabled {
		sources = append(sources, source{models.SourceFire, s.FIRMSPollInterval, feed(client.FeedFIRMS), natural(models.SourceFire)})
	}

	return &Manager{
		sources: sources,
		metrics: metrics,
		points:  make(map[models.SourceKind][]models.PointFeature),
	}
}

// OnChange registers fn to be called after a source's points are replaced.
// Register listeners before Start.
func (m *Manager) OnChange(fn func(kind models.SourceKind)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start launches one poller per enabled source. Each poller polls once
// immediately and then on its interval until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for _, s := range m.sources {
		m.wg.Add(1)
		go m.runPoller(ctx, s)
	}
}

func (m *Manager) runPoller(ctx context.Context, s source) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", s.kind, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial poll
	_ = m.poll(ctx, s)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", s.kind)
			return
		case <-ticker.C:
			_ = m.poll(ctx, s)
		}
	}
}

// RefreshAll polls every enabled source once, concurrently.
func (m *Manager) RefreshAll(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range m.sources {
		g.Go(func() error {
			return m.poll(ctx, s)
		})
	}
	return g.Wait()
}

func (m *Manager) poll(ctx context.Context, s source) error {
	slog.Debug("polling", "source", s.kind)

	fc, err := s.fetch(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		m.observe(s.kind, "error")
		slog.Error("poll failed", "source", s.kind, "error", err)
		return fmt.Errorf("poll %s: %w", s.kind, err)
	}

	pts := s.extract(fc)

	m.mu.Lock()
	m.points[s.kind] = pts
	listeners := append([]func(models.SourceKind){}, m.listeners...)
	m.mu.Unlock()

	m.observe(s.kind, "success")
	if m.metrics != nil {
		m.metrics.FeedPoints.WithLabelValues(string(s.kind)).Set(float64(len(pts)))
	}
	slog.Debug("poll complete", "source", s.kind, "count", len(pts))

	for _, fn := range listeners {
		fn(s.kind)
	}
	return nil
}

func (m *Manager) observe(kind models.SourceKind, outcome string) {
	if m.metrics != nil {
		m.metrics.FeedPolls.WithLabelValues(string(kind), outcome).Inc()
	}
}

// Points flattens the latest points of every source.
func (m *Manager) Points() []models.PointFeature {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, pts := range m.points {
		n += len(pts)
	}
	out := make([]models.PointFeature, 0, n)
	for _, kind := range pointOrder {
		out = append(out, m.points[kind]...)
	}
	return out
}

// Counts returns the number of points held per source.
func (m *Manager) Counts() map[models.SourceKind]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.SourceKind]int, len(m.points))
	for k, pts := range m.points {
		out[k] = len(pts)
	}
	return out
}

func (m *Manager) Stop() {
	m.wg.Wait()
	slog.Info("ingestion manager stopped")
}
