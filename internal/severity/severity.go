// Package severity maps heterogeneous severity signals onto the three-level
// rank used by the tract overlay.
//
// Classification order:
//
//  1. Natural-hazard categories (fire, flood, quake, storm, ...) are always
//     HIGH, whatever the signal says.
//  2. The signal itself: words (high/severe/critical, medium/moderate,
//     low/minor) or numbers (>=4 HIGH, >=2 MEDIUM, else LOW).
//  3. Secondary category keywords (assault, accident, road, ...).
//
// Anything else is unranked.
package severity

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mr1hm/go-pulsemap/internal/models"
)

// NaturalKeywords trigger the HIGH override when found in a category.
var NaturalKeywords = []string{
	"wildfire", "fire", "flood", "hurricane", "tornado", "earthquake", "quake",
	"storm", "cyclone", "typhoon", "tsunami", "volcano", "eruption", "landslide",
	"mudslide", "avalanche", "blizzard", "snow", "hail", "heat", "drought",
	"smoke", "dust", "wind", "ice", "freezing", "lightning",
}

var signalWords = map[string]models.SeverityRank{
	"critical": models.RankHigh,
	"extreme":  models.RankHigh,
	"severe":   models.RankHigh,
	"high":     models.RankHigh,
	"moderate": models.RankMedium,
	"medium":   models.RankMedium,
	"minor":    models.RankLow,
	"low":      models.RankLow,
}

type categoryRule struct {
	rank     models.SeverityRank
	keywords []string
}

// categoryRules are checked in order, so a category matching several rules
// takes the highest rank.
var categoryRules = []categoryRule{
	{rank: models.RankHigh, keywords: []string{"gun", "robbery", "assault", "shoot"}},
	{rank: models.RankMedium, keywords: []string{"accident", "medical", "missing", "theft"}},
	{rank: models.RankLow, keywords: []string{"road", "construction", "blocked", "lost", "bag"}},
}

// IsNatural reports whether category names a natural hazard.
func IsNatural(category string) bool {
	return containsAny(strings.ToLower(category), NaturalKeywords)
}

// Classify returns the rank for a signal/category pair, or models.RankNone.
// signal may be nil, a string, any Go number or a json.Number.
func Classify(signal any, category string) models.SeverityRank {
	if IsNatural(category) {
		return models.RankHigh
	}
	if r, ok := fromSignal(signal); ok {
		return r
	}
	c := strings.ToLower(category)
	for _, rule := range categoryRules {
		if containsAny(c, rule.keywords) {
			return rule.rank
		}
	}
	return models.RankNone
}

func fromSignal(signal any) (models.SeverityRank, bool) {
	switch v := signal.(type) {
	case nil:
		return models.RankNone, false
	case string:
		return fromString(v)
	case json.Number:
		return fromString(v.String())
	case float64:
		return fromNumber(v)
	case float32:
		return fromNumber(float64(v))
	case int:
		return fromNumber(float64(v))
	case int64:
		return fromNumber(float64(v))
	case int32:
		return fromNumber(float64(v))
	case uint:
		return fromNumber(float64(v))
	case models.SeverityRank:
		return v, v.Ranked()
	default:
		return models.RankNone, false
	}
}

func fromString(s string) (models.SeverityRank, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return models.RankNone, false
	}
	if r, ok := signalWords[s]; ok {
		return r, true
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(n)
	}
	return models.RankNone, false
}

func fromNumber(n float64) (models.SeverityRank, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return models.RankNone, false
	}
	switch {
	case n >= 4:
		return models.RankHigh, true
	case n >= 2:
		return models.RankMedium, true
	default:
		return models.RankLow, true
	}
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
