package tracts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	bbox    geo.BBox
	ctx     context.Context
	release chan struct{}
}

// gatedFetcher blocks every fetch until the test releases it.
type gatedFetcher struct {
	mu        sync.Mutex
	calls     []*call
	started   chan *call
	fc        *geojson.FeatureCollection
	err       error
	ignoreCtx bool
}

func newGatedFetcher(fc *geojson.FeatureCollection) *gatedFetcher {
	return &gatedFetcher{started: make(chan *call, 16), fc: fc}
}

func (f *gatedFetcher) Tracts(ctx context.Context, bbox geo.BBox) (*geojson.FeatureCollection, error) {
	c := &call{bbox: bbox, ctx: ctx, release: make(chan struct{})}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fc, err, ignore := f.fc, f.err, f.ignoreCtx
	f.mu.Unlock()
	f.started <- c

	if ignore {
		<-c.release
		return fc, err
	}
	select {
	case <-c.release:
		return fc, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gatedFetcher) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.started:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
		return nil
	}
}

func (f *gatedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticPoints []models.PointFeature

func (s staticPoints) Points() []models.PointFeature { return s }

func square(id string, west, south, size float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{
		{west, south}, {west + size, south}, {west + size, south + size}, {west, south + size}, {west, south},
	}})
	f.ID = id
	return f
}

func tractsFC(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}

var viewBox = geo.BBox{West: 0, South: 0, East: 10, North: 10}

func zoomedIn() Viewport {
	b := viewBox
	return Viewport{Zoom: 12, Bounds: &b}
}

func TestAggregator_ClearedBelowMinZoom(t *testing.T) {
	f := newGatedFetcher(tractsFC())
	metrics := observability.NewMetricsForTesting()
	a := NewAggregator(f, staticPoints{}, 11, metrics)
	defer a.Close()

	b := viewBox
	tok := a.SetViewport(context.Background(), Viewport{Zoom: 10.9, Bounds: &b})

	ov := a.Overlay()
	assert.Equal(t, tok, ov.Token)
	assert.True(t, ov.Cleared)
	assert.Empty(t, ov.Tracts)
	assert.Equal(t, 0, f.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AggregationPasses.WithLabelValues("cleared")))
}

func TestAggregator_ClearedWithoutBounds(t *testing.T) {
	f := newGatedFetcher(tractsFC())
	a := NewAggregator(f, staticPoints{}, 11, nil)
	defer a.Close()

	a.SetViewport(context.Background(), Viewport{Zoom: 14})
	assert.True(t, a.Overlay().Cleared)
	assert.Equal(t, 0, f.callCount())
}

func TestAggregator_AppliesRankedOverlay(t *testing.T) {
	fc := tractsFC(
		square("high", 0, 0, 2),
		square("medium", 3, 0, 2),
		square("none", 6, 0, 2),
	)
	pts := staticPoints{
		{Lat: 1, Lon: 1, Rank: models.RankLow, Source: models.SourceReport},
		{Lat: 1.5, Lon: 1.5, Rank: models.RankHigh, Source: models.SourceReport},
		{Lat: 1, Lon: 4, Rank: models.RankMedium, Source: models.SourceReport},
		{Lat: 1, Lon: 7, Rank: models.RankNone, Source: models.SourceReport},
	}
	f := newGatedFetcher(fc)
	a := NewAggregator(f, pts, 11, observability.NewMetricsForTesting())
	defer a.Close()

	tok := a.SetViewport(context.Background(), zoomedIn())
	c := f.next(t)
	assert.Equal(t, viewBox, c.bbox)
	close(c.release)
	a.Wait()

	ov := a.Overlay()
	require.Equal(t, tok, ov.Token)
	require.Len(t, ov.Tracts, 3)
	assert.Equal(t, models.RankHigh, ov.Tracts[0].Rank)
	assert.Equal(t, models.RankMedium, ov.Tracts[1].Rank)
	assert.Equal(t, models.RankNone, ov.Tracts[2].Rank)
	assert.Equal(t, models.SourceKind(""), ov.Tracts[2].Source)
}

func TestAggregator_SupersededPassIsCancelled(t *testing.T) {
	f := newGatedFetcher(tractsFC(square("a", 0, 0, 2)))
	a := NewAggregator(f, staticPoints{}, 11, observability.NewMetricsForTesting())
	defer a.Close()

	first := a.SetViewport(context.Background(), zoomedIn())
	c1 := f.next(t)

	second := a.Refresh(context.Background())
	c2 := f.next(t)
	assert.Greater(t, second, first)

	select {
	case <-c1.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("first pass was not cancelled")
	}

	close(c2.release)
	a.Wait()

	assert.Equal(t, second, a.Overlay().Token)
}

func TestAggregator_StaleResultDropped(t *testing.T) {
	f := newGatedFetcher(tractsFC(square("a", 0, 0, 2)))
	f.ignoreCtx = true
	a := NewAggregator(f, staticPoints{}, 11, nil)
	defer a.Close()

	a.SetViewport(context.Background(), zoomedIn())
	c1 := f.next(t)

	second := a.Refresh(context.Background())
	c2 := f.next(t)
	close(c2.release)

	// let the newer pass apply first, then release the stale one
	require.Eventually(t, func() bool { return a.Overlay().Token == second }, time.Second, 5*time.Millisecond)
	close(c1.release)
	a.Wait()

	assert.Equal(t, second, a.Overlay().Token)
}

func TestAggregator_ZoomOutSupersedesInflight(t *testing.T) {
	f := newGatedFetcher(tractsFC(square("a", 0, 0, 2)))
	f.ignoreCtx = true
	a := NewAggregator(f, staticPoints{}, 11, nil)
	defer a.Close()

	a.SetViewport(context.Background(), zoomedIn())
	c1 := f.next(t)

	cleared := a.SetViewport(context.Background(), Viewport{Zoom: 5})
	close(c1.release)
	a.Wait()

	ov := a.Overlay()
	assert.Equal(t, cleared, ov.Token)
	assert.True(t, ov.Cleared)
}

func TestAggregator_FailureKeepsPreviousOverlay(t *testing.T) {
	f := newGatedFetcher(tractsFC(square("a", 0, 0, 2)))
	metrics := observability.NewMetricsForTesting()
	a := NewAggregator(f, staticPoints{}, 11, metrics)
	defer a.Close()

	applied := a.SetViewport(context.Background(), zoomedIn())
	close(f.next(t).release)
	a.Wait()

	f.mu.Lock()
	f.err = errors.New("503")
	f.mu.Unlock()

	a.Refresh(context.Background())
	close(f.next(t).release)
	a.Wait()

	ov := a.Overlay()
	assert.Equal(t, applied, ov.Token)
	assert.Len(t, ov.Tracts, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AggregationPasses.WithLabelValues("failed")))
}

func TestAggregator_Subscribe(t *testing.T) {
	f := newGatedFetcher(tractsFC(square("a", 0, 0, 2)))
	a := NewAggregator(f, staticPoints{}, 11, nil)

	id, ch := a.Subscribe()
	tok := a.SetViewport(context.Background(), zoomedIn())
	close(f.next(t).release)
	a.Wait()

	select {
	case ov := <-ch:
		assert.Equal(t, tok, ov.Token)
	case <-time.After(time.Second):
		t.Fatal("no overlay broadcast")
	}
	a.Unsubscribe(id)
	a.Close()
}

func TestAggregator_CallerContextDoesNotCancelPass(t *testing.T) {
	f := newGatedFetcher(tractsFC(square("a", 0, 0, 2)))
	a := NewAggregator(f, staticPoints{}, 11, nil)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tok := a.SetViewport(ctx, zoomedIn())
	c := f.next(t)
	cancel()
	close(c.release)
	a.Wait()

	assert.Equal(t, tok, a.Overlay().Token)
	assert.False(t, a.Overlay().Cleared)
}
