package updates

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-pulsemap/internal/client"
	"github.com/mr1hm/go-pulsemap/internal/models"
)

func TestResolveRID_Priority(t *testing.T) {
	tests := []struct {
		name string
		item map[string]any
		want string
		ok   bool
	}{
		{"top-level rid", map[string]any{"rid": "a", "id": "b", "raw": map[string]any{"rid": "c"}}, "a", true},
		{"raw rid before id", map[string]any{"id": "b", "raw": map[string]any{"rid": "c"}}, "c", true},
		{"raw id before id", map[string]any{"id": "b", "raw": map[string]any{"id": "d"}}, "d", true},
		{"id before _id", map[string]any{"id": "b", "_id": "e"}, "b", true},
		{"_id before raw._id", map[string]any{"_id": "e", "raw": map[string]any{"_id": "f"}}, "e", true},
		{"raw uuid", map[string]any{"raw": map[string]any{"uuid": "g"}}, "g", true},
		{"top-level uuid last", map[string]any{"uuid": "h"}, "h", true},
		{"empty string skipped", map[string]any{"rid": "", "id": "b"}, "b", true},
		{"numeric id", map[string]any{"raw": map[string]any{"id": json.Number("42")}}, "42", true},
		{"float id", map[string]any{"id": 7.0}, "7", true},
		{"zero skipped", map[string]any{"id": json.Number("0"), "uuid": "u"}, "u", true},
		{"raw not an object", map[string]any{"raw": "x"}, "", false},
		{"nothing", map[string]any{"title": "t"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveRID(tt.item)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	raw := map[string]any{
		"kind":      "report",
		"title":     "Downed tree",
		"emoji":     "🌳",
		"time":      "2026-10-16T12:00:00Z",
		"lat":       json.Number("34.1"),
		"lon":       "-118.3",
		"severity":  json.Number("3"),
		"sourceUrl": "https://example.test/r/1",
		"raw":       map[string]any{"id": "r-1"},
	}

	item := Normalize(raw)
	assert.Equal(t, models.SourceReport, item.Kind)
	assert.Equal(t, "Downed tree", item.Title)
	assert.Equal(t, 34.1, item.Lat)
	assert.Equal(t, -118.3, item.Lon)
	assert.Equal(t, 3.0, item.Severity)
	assert.Equal(t, "r-1", item.RID)
	assert.True(t, item.IsCandidate())
}

func TestCandidates(t *testing.T) {
	raws := []map[string]any{
		{"kind": "quake", "id": "q1"},
		{"kind": "report", "rid": "a"},
		{"kind": "report"},
		{"kind": "report", "raw": map[string]any{"uuid": "b"}},
		{"kind": "report", "_id": "c"},
		{"kind": "nws", "rid": "n1"},
	}

	got := Candidates(raws, 0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, RIDs(got))

	got = Candidates(raws, 2)
	assert.Equal(t, []string{"a", "b"}, RIDs(got))

	assert.Empty(t, Candidates(nil, 5))
}

func TestRIDs_Distinct(t *testing.T) {
	items := []models.UpdateItem{{RID: "a"}, {RID: ""}, {RID: "b"}, {RID: "a"}}
	assert.Equal(t, []string{"a", "b"}, RIDs(items))
}

func TestParseTab(t *testing.T) {
	tab, ok := ParseTab("")
	assert.True(t, ok)
	assert.Equal(t, TabLocal, tab)

	tab, ok = ParseTab("global")
	assert.True(t, ok)
	assert.Equal(t, TabGlobal, tab)

	_, ok = ParseTab("other")
	assert.False(t, ok)
}

type fakeSource struct {
	mu        sync.Mutex
	local     []map[string]any
	global    []map[string]any
	err       error
	lastQuery client.LocalQuery
	lastLimit int
}

func (f *fakeSource) LocalUpdates(_ context.Context, _ models.Coordinates, q client.LocalQuery) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.local, f.err
}

func (f *fakeSource) GlobalUpdates(_ context.Context, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.global, f.err
}

func TestPanel_LoadAndHydrate(t *testing.T) {
	src := &fakeSource{
		local:  []map[string]any{{"kind": "report", "rid": "a"}, {"kind": "quake", "title": "M4"}},
		global: []map[string]any{{"kind": "report", "id": "g"}},
	}
	var loaded [][]models.UpdateItem
	p := NewPanel(src, DefaultPanelOptions(), func(items []models.UpdateItem) {
		loaded = append(loaded, items)
	})

	require.NoError(t, p.LoadLocal(context.Background(), models.Coordinates{Latitude: 1, Longitude: 2}))
	require.NoError(t, p.LoadGlobal(context.Background()))

	assert.Equal(t, client.LocalQuery{RadiusMiles: 25, MaxAgeHours: 48, Limit: 100}, src.lastQuery)
	assert.Equal(t, 200, src.lastLimit)

	assert.Len(t, p.Items(TabLocal), 2)
	assert.Len(t, p.Items(TabGlobal), 1)
	assert.Equal(t, "g", p.Items(TabGlobal)[0].RID)
	require.Len(t, loaded, 2)
}

func TestPanel_FailureEmptiesList(t *testing.T) {
	src := &fakeSource{local: []map[string]any{{"kind": "report", "rid": "a"}}}
	p := NewPanel(src, DefaultPanelOptions(), nil)

	require.NoError(t, p.LoadLocal(context.Background(), models.Coordinates{}))
	require.Len(t, p.Items(TabLocal), 1)

	src.err = errors.New("boom")
	err := p.LoadLocal(context.Background(), models.Coordinates{})
	require.Error(t, err)
	assert.Empty(t, p.Items(TabLocal))
}
