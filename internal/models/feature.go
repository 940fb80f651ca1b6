package models

import "github.com/paulmach/orb"

// SourceKind identifies the feed a point or update came from.
type SourceKind string

const (
	SourceReport SourceKind = "report"
	SourceNWS    SourceKind = "nws"
	SourceQuake  SourceKind = "quake"
	SourceEONET  SourceKind = "eonet"
	SourceFire   SourceKind = "fire"
)

// IsNatural reports whether the source is a natural-hazard feed.
func (k SourceKind) IsNatural() bool {
	switch k {
	case SourceQuake, SourceEONET, SourceFire:
		return true
	default:
		return false
	}
}

// PointFeature is the normalized shape every point source is reduced to
// before the spatial join.
type PointFeature struct {
	Lat    float64
	Lon    float64
	Rank   SeverityRank
	Source SourceKind
}

func (p PointFeature) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Tract is a polygon region colored by the highest ranked point inside it.
type Tract struct {
	ID         string
	Geometry   orb.MultiPolygon
	Rank       SeverityRank
	Source     SourceKind // dominating source, empty when unranked
	Properties map[string]any
}

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (c Coordinates) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}
