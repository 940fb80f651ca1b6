package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	putErr  error
	putKeys []string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putKeys = append(m.putKeys, key)
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = value
	return nil
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "pm_seen_v1:abc", StorageKey("pm_seen_v1", "abc"))
	assert.Equal(t, "pm_seen_v1:anon", StorageKey("pm_seen_v1", ""))
}

func TestSeenSet_PersistsAsJSONArray(t *testing.T) {
	kv := newMemKV()
	s := NewSeenSet(kv, "", "sess")

	assert.True(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.False(t, s.Add("a"))
	assert.False(t, s.Add(""))

	assert.Equal(t, `["a","b"]`, kv.data["pm_seen_v1:sess"])
	assert.Len(t, kv.putKeys, 2, "duplicates are not rewritten")

	reloaded := NewSeenSet(kv, "", "sess")
	assert.True(t, reloaded.Has("a"))
	assert.True(t, reloaded.Has("b"))
	assert.Equal(t, []string{"a", "b"}, reloaded.List())
}

func TestSeenSet_CorruptOrMissingIsEmpty(t *testing.T) {
	tests := map[string]string{
		"not json":      `{{{`,
		"object":        `{"a":true}`,
		"empty string":  ``,
		"mixed entries": `[1, null, ""]`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			kv := newMemKV()
			kv.data["pm_seen_v1:s"] = raw
			s := NewSeenSet(kv, "pm_seen_v1", "s")
			assert.Empty(t, s.List())
		})
	}

	kv := newMemKV()
	kv.data["pm_seen_v1:s"] = `["x", 3, "y", "x"]`
	s := NewSeenSet(kv, "pm_seen_v1", "s")
	assert.Equal(t, []string{"x", "y"}, s.List())
}

func TestSeenSet_StorageErrorsSwallowed(t *testing.T) {
	kv := newMemKV()
	kv.getErr = errors.New("unavailable")
	s := NewSeenSet(kv, "ns", "s")
	assert.Empty(t, s.List())

	kv.putErr = errors.New("quota exceeded")
	require.True(t, s.Add("a"))
	assert.True(t, s.Has("a"), "in-memory mark survives a failed write")
}

func TestSeenSet_LoadSwitchesNamespace(t *testing.T) {
	kv := newMemKV()
	kv.data["ns:one"] = `["a"]`
	kv.data["ns:two"] = `["b"]`

	s := NewSeenSet(kv, "ns", "one")
	assert.True(t, s.Has("a"))

	s.Load("two")
	assert.Equal(t, "ns:two", s.Key())
	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))

	s.Add("c")
	assert.Equal(t, `["b","c"]`, kv.data["ns:two"])
	assert.Equal(t, `["a"]`, kv.data["ns:one"])
}

func TestSeenSet_NilStore(t *testing.T) {
	s := NewSeenSet(nil, "ns", "")
	assert.True(t, s.Add("a"))
	assert.True(t, s.Has("a"))
	assert.Equal(t, "ns:anon", s.Key())
}
