package severity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mr1hm/go-pulsemap/internal/models"
)

func TestClassify_NaturalOverride(t *testing.T) {
	signals := []any{nil, "low", "minor", 0, 1.5, "unknown", json.Number("0")}
	categories := []string{"Wildfire", "flash FLOOD warning", "Earthquake", "winter storm", "Heat advisory"}

	for _, cat := range categories {
		for _, sig := range signals {
			assert.Equal(t, models.RankHigh, Classify(sig, cat), "category=%q signal=%v", cat, sig)
		}
	}
}

func TestClassify_Signal(t *testing.T) {
	tests := []struct {
		signal any
		want   models.SeverityRank
	}{
		{"high", models.RankHigh},
		{" Severe ", models.RankHigh},
		{"CRITICAL", models.RankHigh},
		{"moderate", models.RankMedium},
		{"Medium", models.RankMedium},
		{"minor", models.RankLow},
		{"low", models.RankLow},
		{4, models.RankHigh},
		{4.0, models.RankHigh},
		{3.9, models.RankMedium},
		{2, models.RankMedium},
		{1.99, models.RankLow},
		{0, models.RankLow},
		{"5", models.RankHigh},
		{"2.5", models.RankMedium},
		{json.Number("1"), models.RankLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.signal, ""), "signal=%v", tt.signal)
	}
}

func TestClassify_CategoryFallback(t *testing.T) {
	tests := []struct {
		category string
		want     models.SeverityRank
	}{
		{"Armed robbery", models.RankHigh},
		{"assault", models.RankHigh},
		{"car accident", models.RankMedium},
		{"Medical emergency", models.RankMedium},
		{"missing person", models.RankMedium},
		{"road closure", models.RankLow},
		{"construction", models.RankLow},
		{"lost item", models.RankLow},
		{"", models.RankNone},
		{"concert", models.RankNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(nil, tt.category), "category=%q", tt.category)
	}
}

func TestClassify_SignalBeatsSecondaryCategory(t *testing.T) {
	assert.Equal(t, models.RankLow, Classify("low", "robbery"))
	assert.Equal(t, models.RankHigh, Classify("unparseable", "robbery"))
}

func TestClassify_Unranked(t *testing.T) {
	assert.Equal(t, models.RankNone, Classify("unknown", "other"))
	assert.Equal(t, models.RankNone, Classify(struct{}{}, ""))
	assert.False(t, Classify(nil, "").Ranked())
}

func TestIsNatural(t *testing.T) {
	assert.True(t, IsNatural("Tornado Warning"))
	assert.True(t, IsNatural("ice storm"))
	assert.False(t, IsNatural("traffic"))
	assert.False(t, IsNatural(""))
}
