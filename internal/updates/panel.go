package updates

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-pulsemap/internal/client"
	"github.com/mr1hm/go-pulsemap/internal/models"
)

type Tab string

const (
	TabLocal  Tab = "local"
	TabGlobal Tab = "global"
)

func ParseTab(s string) (Tab, bool) {
	switch Tab(s) {
	case TabLocal, TabGlobal:
		return Tab(s), true
	case "":
		return TabLocal, true
	default:
		return "", false
	}
}

// Source is the subset of the remote client the panel needs.
type Source interface {
	LocalUpdates(ctx context.Context, anchor models.Coordinates, q client.LocalQuery) ([]map[string]any, error)
	GlobalUpdates(ctx context.Context, limit int) ([]map[string]any, error)
}

type PanelOptions struct {
	LocalRadiusMiles float64
	LocalMaxAgeHours int
	LocalLimit       int
	GlobalLimit      int
}

func DefaultPanelOptions() PanelOptions {
	return PanelOptions{
		LocalRadiusMiles: 25,
		LocalMaxAgeHours: 48,
		LocalLimit:       100,
		GlobalLimit:      200,
	}
}

// Panel holds the local and global update lists. Every successful load
// is handed to the loaded callback so reactions can be hydrated.
type Panel struct {
	src    Source
	opts   PanelOptions
	loaded func(items []models.UpdateItem)

	mu     sync.RWMutex
	lists  map[Tab][]models.UpdateItem
	tokens map[Tab]uint64
}

func NewPanel(src Source, opts PanelOptions, loaded func(items []models.UpdateItem)) *Panel {
	return &Panel{
		src:    src,
		opts:   opts,
		loaded: loaded,
		lists:  make(map[Tab][]models.UpdateItem),
		tokens: make(map[Tab]uint64),
	}
}

// LoadLocal replaces the local list with updates around anchor. On failure
// the list is emptied.
func (p *Panel) LoadLocal(ctx context.Context, anchor models.Coordinates) error {
	return p.load(ctx, TabLocal, func(ctx context.Context) ([]map[string]any, error) {
		return p.src.LocalUpdates(ctx, anchor, client.LocalQuery{
			RadiusMiles: p.opts.LocalRadiusMiles,
			MaxAgeHours: p.opts.LocalMaxAgeHours,
			Limit:       p.opts.LocalLimit,
		})
	})
}

func (p *Panel) LoadGlobal(ctx context.Context) error {
	return p.load(ctx, TabGlobal, func(ctx context.Context) ([]map[string]any, error) {
		return p.src.GlobalUpdates(ctx, p.opts.GlobalLimit)
	})
}

func (p *Panel) load(ctx context.Context, tab Tab, fetch func(context.Context) ([]map[string]any, error)) error {
	p.mu.Lock()
	p.tokens[tab]++
	token := p.tokens[tab]
	p.mu.Unlock()

	raws, err := fetch(ctx)
	var items []models.UpdateItem
	if err == nil {
		items = NormalizeAll(raws)
	}

	p.mu.Lock()
	if p.tokens[tab] != token {
		p.mu.Unlock()
		return nil
	}
	p.lists[tab] = items
	p.mu.Unlock()

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("update list load failed", "tab", tab, "error", err)
		}
		return err
	}
	if p.loaded != nil && len(items) > 0 {
		p.loaded(items)
	}
	return nil
}

func (p *Panel) Items(tab Tab) []models.UpdateItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.lists[tab]
	out := make([]models.UpdateItem, len(src))
	copy(out, src)
	return out
}
