package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DefaultNamespace prefixes every seen-set storage key.
const DefaultNamespace = "pm_seen_v1"

const storageTimeout = 2 * time.Second

// KV is the durable string store the seen set is written to.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// SeenSet is the persisted set of report ids already shown in this
// session. Storage problems never surface: an unreadable set is empty and
// a failed write is logged and dropped.
type SeenSet struct {
	kv        KV
	namespace string

	mu    sync.RWMutex
	key   string
	ids   map[string]struct{}
	order []string
}

func NewSeenSet(kv KV, namespace, sessionID string) *SeenSet {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &SeenSet{kv: kv, namespace: namespace}
	s.Load(sessionID)
	return s
}

// StorageKey is "<namespace>:<sessionID>", with "anon" for an empty session.
func StorageKey(namespace, sessionID string) string {
	if sessionID == "" {
		sessionID = "anon"
	}
	return namespace + ":" + sessionID
}

// Load switches to sessionID's namespace and reads its stored set.
func (s *SeenSet) Load(sessionID string) {
	key := StorageKey(s.namespace, sessionID)
	ids, order := s.read(key)

	s.mu.Lock()
	s.key = key
	s.ids = ids
	s.order = order
	s.mu.Unlock()
}

func (s *SeenSet) read(key string) (map[string]struct{}, []string) {
	ids := make(map[string]struct{})
	if s.kv == nil {
		return ids, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		slog.Warn("seen set read failed", "key", key, "error", err)
		return ids, nil
	}
	if !ok || raw == "" {
		return ids, nil
	}

	var values []any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		slog.Warn("seen set corrupt, starting empty", "key", key, "error", err)
		return ids, nil
	}
	order := make([]string, 0, len(values))
	for _, v := range values {
		id, ok := v.(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := ids[id]; dup {
			continue
		}
		ids[id] = struct{}{}
		order = append(order, id)
	}
	return ids, order
}

func (s *SeenSet) Has(rid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[rid]
	return ok
}

// Add marks rid seen and persists the set. It reports whether rid was new.
func (s *SeenSet) Add(rid string) bool {
	if rid == "" {
		return false
	}
	s.mu.Lock()
	if _, ok := s.ids[rid]; ok {
		s.mu.Unlock()
		return false
	}
	s.ids[rid] = struct{}{}
	s.order = append(s.order, rid)
	key := s.key
	payload, err := json.Marshal(s.order)
	s.mu.Unlock()

	if err != nil || s.kv == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := s.kv.Put(ctx, key, string(payload)); err != nil {
		slog.Warn("seen set write failed", "key", key, "error", err)
	}
	return true
}

func (s *SeenSet) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// List returns the seen ids in the order they were marked.
func (s *SeenSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}
