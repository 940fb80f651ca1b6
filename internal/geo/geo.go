// Package geo holds the pure geometry helpers used by the aggregator and the
// proximity feed: bounding boxes, point-in-polygon tests and great-circle
// distance. Coordinates follow GeoJSON order (lon, lat) internally.
package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

const metersPerMile = 1609.344

// BBox is a west/south/east/north bounding box in degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// ParseBBox parses the "W,S,E,N" form used by the tracts endpoint.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 comma separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox value %d: %w", i, err)
		}
		v[i] = f
	}
	b := BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

func (b BBox) Validate() error {
	if b.South > b.North {
		return fmt.Errorf("bbox south %.6f is above north %.6f", b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("bbox west %.6f is east of %.6f", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("bbox latitude out of range")
	}
	return nil
}

// String renders the box as "W,S,E,N".
func (b BBox) String() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
	}, ",")
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// Contains reports whether lat/lon lies inside the box. Edges count as inside.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// PolygonContains runs a point-in-polygon test honoring holes. The bound check
// is a cheap rejection before the ring walk.
func PolygonContains(mp orb.MultiPolygon, lat, lon float64) bool {
	pt := orb.Point{lon, lat}
	if !mp.Bound().Contains(pt) {
		return false
	}
	return planar.MultiPolygonContains(mp, pt)
}

// DistanceMiles is the haversine great-circle distance between two points.
func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return orbgeo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2}) / metersPerMile
}

// Centroid returns the area centroid of a polygonal geometry as lat/lon.
func Centroid(g orb.Geometry) (lat, lon float64, ok bool) {
	if g == nil {
		return 0, 0, false
	}
	c, _ := planar.CentroidArea(g)
	if c == (orb.Point{}) && g.Bound().IsZero() {
		return 0, 0, false
	}
	return c.Lat(), c.Lon(), true
}
