package models

// SeverityRank is the ordinal severity used to color tracts.
type SeverityRank int8

const (
	RankNone   SeverityRank = -1
	RankLow    SeverityRank = 0
	RankMedium SeverityRank = 1
	RankHigh   SeverityRank = 2
)

// Overlay fill colors per rank. BaselineColor is used for unranked tracts.
const (
	BaselineColor = "#9AA0A6"
	LowColor      = "#7BC96F"
	MediumColor   = "#F1E05A"
	HighColor     = "#EF6A5B"
)

func (r SeverityRank) Ranked() bool {
	return r >= RankLow && r <= RankHigh
}

func (r SeverityRank) String() string {
	switch r {
	case RankLow:
		return "low"
	case RankMedium:
		return "medium"
	case RankHigh:
		return "high"
	default:
		return "none"
	}
}

func (r SeverityRank) Color() string {
	switch r {
	case RankLow:
		return LowColor
	case RankMedium:
		return MediumColor
	case RankHigh:
		return HighColor
	default:
		return BaselineColor
	}
}
