// Package reactions holds the verify/clear state of every report the
// session has seen and applies toggles optimistically before the server
// confirms them.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-pulsemap/internal/broadcast"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/observability"
	"github.com/mr1hm/go-pulsemap/internal/updates"
)

// ErrCommitFailed wraps the error of a toggle the server did not accept.
var ErrCommitFailed = errors.New("reaction commit failed")

type Remote interface {
	React(ctx context.Context, rid string, action models.Action, value bool, sessionID string) (models.ReactionState, error)
	Reactions(ctx context.Context, ids []string, sessionID string) (map[string]models.ReactionState, error)
}

type Phase string

const (
	PhaseOptimistic Phase = "optimistic"
	PhaseCommitted  Phase = "committed"
	PhaseReconciled Phase = "reconciled"
	PhaseHydrated   Phase = "hydrated"
)

// Change describes one ledger mutation.
type Change struct {
	RID   string               `json:"rid"`
	State models.ReactionState `json:"state"`
	Phase Phase                `json:"phase"`
}

// Apply is the optimistic transition for action: it negates the session's
// flag for that action, keeps verified and cleared mutually exclusive and
// never lets a count drop below zero. want is the flag value to commit.
func Apply(cur models.ReactionState, action models.Action) (next models.ReactionState, want bool) {
	next = cur
	switch action {
	case models.ActionVerify:
		want = !cur.Me.Verified
		if want {
			next.Me.Verified = true
			next.VerifyCount++
			if next.Me.Cleared {
				next.Me.Cleared = false
				next.ClearCount = dec(next.ClearCount)
			}
		} else {
			next.Me.Verified = false
			next.VerifyCount = dec(next.VerifyCount)
		}
	case models.ActionClear:
		want = !cur.Me.Cleared
		if want {
			next.Me.Cleared = true
			next.ClearCount++
			if next.Me.Verified {
				next.Me.Verified = false
				next.VerifyCount = dec(next.VerifyCount)
			}
		} else {
			next.Me.Cleared = false
			next.ClearCount = dec(next.ClearCount)
		}
	}
	return next, want
}

func dec(n uint) uint {
	if n == 0 {
		return 0
	}
	return n - 1
}

type Ledger struct {
	remote  Remote
	metrics *observability.Metrics
	bc      *broadcast.Broadcaster[Change]

	mu        sync.RWMutex
	sessionID string
	states    map[string]models.ReactionState
	listeners []func(Change)
}

func NewLedger(remote Remote, sessionID string, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		remote:    remote,
		metrics:   metrics,
		bc:        broadcast.New[Change](64),
		sessionID: sessionID,
		states:    make(map[string]models.ReactionState),
	}
}

// OnChange registers fn, called synchronously after every mutation.
func (l *Ledger) OnChange(fn func(Change)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Ledger) SetSession(id string) {
	l.mu.Lock()
	l.sessionID = id
	l.mu.Unlock()
}

// Toggle flips the session's verify or clear flag for rid. The new state is
// visible to listeners before the commit request is sent. On success the
// server's state replaces it; on failure the ledger re-reads rid once and
// the returned error wraps ErrCommitFailed.
func (l *Ledger) Toggle(ctx context.Context, rid string, action models.Action) (models.ReactionState, error) {
	if rid == "" {
		return models.ReactionState{}, errors.New("empty report id")
	}
	if _, err := models.ParseAction(string(action)); err != nil {
		return models.ReactionState{}, err
	}

	l.mu.Lock()
	next, want := Apply(l.states[rid], action)
	l.states[rid] = next
	sid := l.sessionID
	l.mu.Unlock()
	l.publish(Change{RID: rid, State: next, Phase: PhaseOptimistic})

	state, err := l.remote.React(ctx, rid, action, want, sid)
	if err == nil {
		l.set(rid, state, PhaseCommitted)
		l.observe(action, "success")
		return state, nil
	}

	slog.Warn("reaction commit failed, reconciling", "rid", rid, "action", action, "error", err)
	commitErr := fmt.Errorf("%w: %w", ErrCommitFailed, err)

	truth, rerr := l.remote.Reactions(ctx, []string{rid}, sid)
	if rerr != nil {
		slog.Warn("reaction reconcile failed", "rid", rid, "error", rerr)
		l.observe(action, "failed")
		return next, commitErr
	}
	if s, ok := truth[rid]; ok {
		l.set(rid, s, PhaseReconciled)
		l.observe(action, "reconciled")
		return s, commitErr
	}
	l.observe(action, "failed")
	return next, commitErr
}

// Hydrate merges server state for ids into the ledger. Entries the
// response omits are left untouched.
func (l *Ledger) Hydrate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.RLock()
	sid := l.sessionID
	l.mu.RUnlock()

	got, err := l.remote.Reactions(ctx, ids, sid)
	if err != nil {
		if l.metrics != nil {
			l.metrics.HydrationBatches.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("hydrate reactions: %w", err)
	}
	if l.metrics != nil {
		l.metrics.HydrationBatches.WithLabelValues("success").Inc()
	}

	changes := make([]Change, 0, len(got))
	l.mu.Lock()
	for rid, s := range got {
		l.states[rid] = s
		changes = append(changes, Change{RID: rid, State: s, Phase: PhaseHydrated})
	}
	l.mu.Unlock()

	for _, c := range changes {
		l.publish(c)
	}
	return nil
}

// HydrateItems hydrates the distinct rids of items.
func (l *Ledger) HydrateItems(ctx context.Context, items []models.UpdateItem) error {
	return l.Hydrate(ctx, updates.RIDs(items))
}

func (l *Ledger) Get(rid string) (models.ReactionState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.states[rid]
	return s, ok
}

// Snapshot copies the states of ids, or of every entry when ids is empty.
func (l *Ledger) Snapshot(ids ...string) map[string]models.ReactionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(ids) == 0 {
		out := make(map[string]models.ReactionState, len(l.states))
		for k, v := range l.states {
			out[k] = v
		}
		return out
	}
	out := make(map[string]models.ReactionState, len(ids))
	for _, id := range ids {
		if s, ok := l.states[id]; ok {
			out[id] = s
		}
	}
	return out
}

func (l *Ledger) Subscribe() (uint64, <-chan Change) {
	return l.bc.Subscribe()
}

func (l *Ledger) Unsubscribe(id uint64) {
	l.bc.Unsubscribe(id)
}

func (l *Ledger) Close() {
	l.bc.Close()
}

func (l *Ledger) set(rid string, s models.ReactionState, phase Phase) {
	l.mu.Lock()
	l.states[rid] = s
	l.mu.Unlock()
	l.publish(Change{RID: rid, State: s, Phase: phase})
}

func (l *Ledger) publish(c Change) {
	l.mu.RLock()
	listeners := append([]func(Change){}, l.listeners...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
	l.bc.Broadcast(c)
}

func (l *Ledger) observe(action models.Action, outcome string) {
	if l.metrics != nil {
		l.metrics.ReactionCommits.WithLabelValues(string(action), outcome).Inc()
	}
}
