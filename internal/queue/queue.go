// Package queue presents nearby, undecided, unseen reports one at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-pulsemap/internal/broadcast"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
)

const (
	DefaultLimit      = 5
	DefaultLeaveDelay = 220 * time.Millisecond
)

var (
	// ErrBusy is returned when an action arrives while the previous one is
	// still leaving.
	ErrBusy = errors.New("queue is busy")
	// ErrEmpty is returned when there is no current item to act on.
	ErrEmpty = errors.New("queue has no current item")
)

type Action string

const (
	ActionVerify Action = "verify"
	ActionClear  Action = "clear"
	ActionSkip   Action = "skip"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionVerify, ActionClear, ActionSkip:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown queue action: %q", s)
	}
}

type ReactionReader interface {
	Get(rid string) (models.ReactionState, bool)
}

// Ledger is the reaction store the queue reads from and toggles through.
type Ledger interface {
	ReactionReader
	Toggle(ctx context.Context, rid string, action models.Action) (models.ReactionState, error)
}

// Build filters candidates in order, dropping anything that is not a
// reactable report, is already decided or already seen, and stops at
// limit accepted items.
func Build(candidates []models.UpdateItem, reactions ReactionReader, seen func(rid string) bool, limit int) []models.UpdateItem {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]models.UpdateItem, 0, limit)
	for _, c := range candidates {
		if !c.IsCandidate() {
			continue
		}
		if reactions != nil {
			if r, ok := reactions.Get(c.RID); ok && r.Decided() {
				continue
			}
		}
		if seen != nil && seen(c.RID) {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// State is a snapshot of the queue.
type State struct {
	Items   []models.UpdateItem `json:"items"`
	Index   int                 `json:"index"`
	Open    bool                `json:"open"`
	Leaving bool                `json:"leaving"`
	Current *models.UpdateItem  `json:"current"`
	Total   int                 `json:"total"`
}

type Options struct {
	Limit      int
	LeaveDelay time.Duration
	Clock      clockwork.Clock
}

type Queue struct {
	ledger  Ledger
	seen    *SeenSet
	clock   clockwork.Clock
	delay   time.Duration
	metrics *observability.Metrics
	bc      *broadcast.Broadcaster[State]

	mu         sync.Mutex
	candidates []models.UpdateItem
	limit      int
	items      []models.UpdateItem
	index      int
	open       bool
	leaving    bool
	acting     bool
	gen        uint64
}

func New(ledger Ledger, seen *SeenSet, opts Options, metrics *observability.Metrics) *Queue {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.LeaveDelay < 0 {
		opts.LeaveDelay = DefaultLeaveDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Queue{
		ledger:  ledger,
		seen:    seen,
		clock:   opts.Clock,
		delay:   opts.LeaveDelay,
		metrics: metrics,
		bc:      broadcast.New[State](16),
		limit:   opts.Limit,
	}
}

// SetCandidates replaces the candidate list and rebuilds.
func (q *Queue) SetCandidates(items []models.UpdateItem) {
	q.mu.Lock()
	q.candidates = append([]models.UpdateItem(nil), items...)
	q.rebuildLocked()
	st := q.stateLocked()
	q.mu.Unlock()
	q.publish(st)
}

// ReactionsChanged rebuilds against the current reaction state.
func (q *Queue) ReactionsChanged() {
	q.mu.Lock()
	q.rebuildLocked()
	st := q.stateLocked()
	q.mu.Unlock()
	q.publish(st)
}

func (q *Queue) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q.mu.Lock()
	q.limit = limit
	q.rebuildLocked()
	st := q.stateLocked()
	q.mu.Unlock()
	q.publish(st)
}

// SetSession reloads the seen set for sessionID and rebuilds.
func (q *Queue) SetSession(sessionID string) {
	q.seen.Load(sessionID)
	q.ReactionsChanged()
}

func (q *Queue) rebuildLocked() {
	q.items = Build(q.candidates, q.ledger, q.seen.Has, q.limit)
	q.index = 0
	q.leaving = false
	q.gen++
	switch {
	case len(q.items) == 0:
		q.open = false
	case !q.open:
		q.open = true
		slog.Debug("queue auto-opened", "total", len(q.items))
	}
}

// Open opens the queue if it has items.
func (q *Queue) Open() bool {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	q.open = true
	st := q.stateLocked()
	q.mu.Unlock()
	q.publish(st)
	return true
}

// Close dismisses the queue and drops its items. It stays closed until a
// rebuild produces items again.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closeLocked()
	q.gen++
	st := q.stateLocked()
	q.mu.Unlock()
	q.publish(st)
}

func (q *Queue) closeLocked() {
	q.open = false
	q.leaving = false
	q.items = nil
	q.index = 0
}

func (q *Queue) Verify(ctx context.Context) error { return q.Act(ctx, ActionVerify) }
func (q *Queue) Clear(ctx context.Context) error  { return q.Act(ctx, ActionClear) }
func (q *Queue) Skip(ctx context.Context) error   { return q.Act(ctx, ActionSkip) }

// Act marks the current item seen, toggles its reaction for verify and
// clear, then holds the leaving state for the leave delay before moving to
// the next item or closing after the last one. It blocks for the delay.
func (q *Queue) Act(ctx context.Context, action Action) error {
	if _, err := ParseAction(string(action)); err != nil {
		return err
	}

	q.mu.Lock()
	if q.acting {
		q.mu.Unlock()
		return ErrBusy
	}
	if !q.open || q.index >= len(q.items) {
		q.mu.Unlock()
		return ErrEmpty
	}
	item := q.items[q.index]
	idx, gen := q.index, q.gen
	q.acting = true
	q.leaving = true
	st := q.stateLocked()
	q.mu.Unlock()
	q.publish(st)

	if q.seen.Add(item.RID) && q.metrics != nil {
		q.metrics.SeenMarks.Inc()
	}
	if q.metrics != nil {
		q.metrics.QueueActions.WithLabelValues(string(action)).Inc()
	}

	if action != ActionSkip {
		if _, err := q.ledger.Toggle(ctx, item.RID, models.Action(action)); err != nil {
			slog.Warn("queue reaction not committed", "rid", item.RID, "action", action, "error", err)
		}
	}

	<-q.clock.After(q.delay)

	q.mu.Lock()
	q.acting = false
	switch {
	case q.gen != gen:
		// rebuilt while leaving; the rebuild already dropped the item
		if len(q.items) == 0 {
			q.closeLocked()
		}
	case idx+1 < len(q.items):
		q.index = idx + 1
		q.leaving = false
	default:
		q.closeLocked()
	}
	st = q.stateLocked()
	q.mu.Unlock()
	q.publish(st)
	return nil
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() State {
	st := State{
		Items:   append([]models.UpdateItem(nil), q.items...),
		Index:   q.index,
		Open:    q.open,
		Leaving: q.leaving,
		Total:   len(q.items),
	}
	if q.index < len(q.items) {
		cur := q.items[q.index]
		st.Current = &cur
	}
	return st
}

func (q *Queue) Seen() *SeenSet {
	return q.seen
}

func (q *Queue) Subscribe() (uint64, <-chan State) {
	return q.bc.Subscribe()
}

func (q *Queue) Unsubscribe(id uint64) {
	q.bc.Unsubscribe(id)
}

// Shutdown closes every state subscription.
func (q *Queue) Shutdown() {
	q.bc.Close()
}

func (q *Queue) publish(st State) {
	if q.metrics != nil {
		v := 0.0
		if st.Open {
			v = 1
		}
		q.metrics.QueueOpen.Set(v)
	}
	q.bc.Broadcast(st)
}
