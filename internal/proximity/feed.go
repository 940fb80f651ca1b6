// Package proximity keeps the short list of reactable reports near the
// anchor location.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-pulsemap/internal/client"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
	"github.com/mr1hm/go-pulsemap/internal/updates"
)

// DefaultRefresh is the cron spec for periodic re-fetches.
const DefaultRefresh = "@every 2m"

type Fetcher interface {
	LocalUpdates(ctx context.Context, anchor models.Coordinates, q client.LocalQuery) ([]map[string]any, error)
}

type Options struct {
	RadiusMiles float64
	Limit       int
	MaxAgeHours int
}

func DefaultOptions() Options {
	return Options{RadiusMiles: 2, Limit: 5, MaxAgeHours: 48}
}

// Result is one published candidate list. A nil Err with no Items means
// nothing is nearby; a non-nil Err means the fetch failed.
type Result struct {
	Token  uint64              `json:"token"`
	Anchor models.Coordinates  `json:"anchor"`
	Items  []models.UpdateItem `json:"items"`
	Err    error               `json:"-"`
}

type Feed struct {
	fetcher Fetcher
	opts    Options
	metrics *observability.Metrics

	mu        sync.Mutex
	anchor    *models.Coordinates
	token     uint64
	cancel    context.CancelFunc
	latest    Result
	listeners []func(Result)

	// serializes listener delivery so results arrive in token order
	pubMu sync.Mutex
	wg    sync.WaitGroup
}

func NewFeed(fetcher Fetcher, opts Options, metrics *observability.Metrics) *Feed {
	def := DefaultOptions()
	if opts.RadiusMiles <= 0 {
		opts.RadiusMiles = def.RadiusMiles
	}
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.MaxAgeHours <= 0 {
		opts.MaxAgeHours = def.MaxAgeHours
	}
	return &Feed{fetcher: fetcher, opts: opts, metrics: metrics}
}

// OnResult registers a listener called after every published result.
func (f *Feed) OnResult(fn func(Result)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// SetAnchor moves the anchor and re-fetches.
func (f *Feed) SetAnchor(ctx context.Context, anchor models.Coordinates) uint64 {
	f.mu.Lock()
	f.anchor = &anchor
	f.mu.Unlock()
	return f.Refetch(ctx)
}

// Refetch supersedes any in-flight fetch and starts a new one for the
// current anchor. It returns 0 and does nothing while no anchor is set.
func (f *Feed) Refetch(ctx context.Context) uint64 {
	f.mu.Lock()
	if f.anchor == nil {
		f.mu.Unlock()
		return 0
	}
	f.token++
	token := f.token
	if f.cancel != nil {
		f.cancel()
	}
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	anchor := *f.anchor
	f.wg.Add(1)
	f.mu.Unlock()

	go f.run(fetchCtx, cancel, token, anchor)
	return token
}

func (f *Feed) run(ctx context.Context, cancel context.CancelFunc, token uint64, anchor models.Coordinates) {
	defer f.wg.Done()
	defer cancel()

	raws, err := f.fetcher.LocalUpdates(ctx, anchor, client.LocalQuery{
		RadiusMiles: f.opts.RadiusMiles,
		MaxAgeHours: f.opts.MaxAgeHours,
		Limit:       f.opts.Limit,
	})
	if ctx.Err() != nil {
		f.observe("superseded")
		return
	}

	res := Result{Token: token, Anchor: anchor}
	if err != nil {
		slog.Warn("nearby fetch failed", "token", token, "error", err)
		res.Err = fmt.Errorf("nearby fetch: %w", err)
	} else {
		res.Items = updates.Candidates(raws, f.opts.Limit)
	}

	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	f.mu.Lock()
	if f.token != token {
		f.mu.Unlock()
		f.observe("superseded")
		return
	}
	f.latest = res
	listeners := append([]func(Result){}, f.listeners...)
	f.mu.Unlock()

	if res.Err != nil {
		f.observe("error")
	} else {
		f.observe("success")
		if f.metrics != nil {
			f.metrics.NearbyCandidates.Set(float64(len(res.Items)))
		}
	}

	for _, fn := range listeners {
		fn(res)
	}
}

func (f *Feed) observe(outcome string) {
	if f.metrics != nil {
		f.metrics.ProximityFetches.WithLabelValues(outcome).Inc()
	}
}

// Latest returns the last published result.
func (f *Feed) Latest() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *Feed) Anchor() (models.Coordinates, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.anchor == nil {
		return models.Coordinates{}, false
	}
	return *f.anchor, true
}

// Wait blocks until all started fetches have finished.
func (f *Feed) Wait() {
	f.wg.Wait()
}

// Schedule registers a periodic re-fetch of the current anchor on c.
func (f *Feed) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		return 0, errors.New("empty refresh schedule")
	}
	id, err := c.AddFunc(spec, func() {
		if f.Refetch(context.Background()) != 0 {
			slog.Debug("scheduled nearby refresh")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule nearby refresh %q: %w", spec, err)
	}
	return id, nil
}

// Close cancels the in-flight fetch and waits for it.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
	f.wg.Wait()
}
