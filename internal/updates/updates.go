// Package updates normalizes the backend's update lists and keeps the
// local/global list panel.
package updates

import (
	"encoding/json"
	"strconv"

	"github.com/mr1hm/go-pulsemap/internal/client"
	"github.com/mr1hm/go-pulsemap/internal/models"
)

// ridPaths lists where a report id may live, highest priority first.
var ridPaths = [][]string{
	{"rid"},
	{"raw", "rid"},
	{"raw", "id"},
	{"id"},
	{"_id"},
	{"raw", "_id"},
	{"raw", "uuid"},
	{"uuid"},
}

// ResolveRID returns the first usable id found along ridPaths. Empty
// strings and zero numbers do not count.
func ResolveRID(item map[string]any) (string, bool) {
	for _, path := range ridPaths {
		if s, ok := idString(lookup(item, path)); ok {
			return s, true
		}
	}
	return "", false
}

func lookup(m map[string]any, path []string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func idString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		f, err := t.Float64()
		if err != nil || f == 0 {
			return "", false
		}
		return t.String(), true
	case float64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), t != 0
	case int64:
		return strconv.FormatInt(t, 10), t != 0
	default:
		return "", false
	}
}

// Normalize maps a raw update object onto an UpdateItem. The rid is
// resolved for every kind; only reports use it.
func Normalize(raw map[string]any) models.UpdateItem {
	item := models.UpdateItem{
		Kind:      models.SourceKind(str(raw["kind"])),
		Title:     str(raw["title"]),
		Emoji:     str(raw["emoji"]),
		Time:      str(raw["time"]),
		Severity:  raw["severity"],
		SourceURL: str(raw["sourceUrl"]),
	}
	if lat, ok := client.ToFloat(raw["lat"]); ok {
		item.Lat = lat
	}
	if lon, ok := client.ToFloat(raw["lon"]); ok {
		item.Lon = lon
	}
	if n, ok := item.Severity.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			item.Severity = f
		}
	}
	if r, ok := raw["raw"].(map[string]any); ok {
		item.Raw = r
	}
	if rid, ok := ResolveRID(raw); ok {
		item.RID = rid
	}
	return item
}

func NormalizeAll(raws []map[string]any) []models.UpdateItem {
	out := make([]models.UpdateItem, 0, len(raws))
	for _, r := range raws {
		out = append(out, Normalize(r))
	}
	return out
}

// Candidates keeps report items with a resolvable rid, in input order,
// truncated to limit (limit <= 0 keeps all).
func Candidates(raws []map[string]any, limit int) []models.UpdateItem {
	out := make([]models.UpdateItem, 0, len(raws))
	for _, r := range raws {
		if str(r["kind"]) != string(models.SourceReport) {
			continue
		}
		item := Normalize(r)
		if !item.IsCandidate() {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// RIDs returns the distinct non-empty rids of items in first-seen order.
func RIDs(items []models.UpdateItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.RID == "" {
			continue
		}
		if _, dup := seen[it.RID]; dup {
			continue
		}
		seen[it.RID] = struct{}{}
		out = append(out, it.RID)
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
