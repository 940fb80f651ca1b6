package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(w, s, e, n float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{w, s}, {e, s}, {e, n}, {w, n}, {w, s}}}
}

func TestParseBBox(t *testing.T) {
	b, err := ParseBBox("-74.1,40.5,-73.7,40.9")
	require.NoError(t, err)
	assert.Equal(t, BBox{West: -74.1, South: 40.5, East: -73.7, North: 40.9}, b)
	assert.Equal(t, "-74.1,40.5,-73.7,40.9", b.String())
}

func TestParseBBox_Invalid(t *testing.T) {
	for _, in := range []string{"", "1,2,3", "a,b,c,d", "0,10,1,5"} {
		_, err := ParseBBox(in)
		assert.Error(t, err, in)
	}
}

func TestBBox_Contains(t *testing.T) {
	b := BBox{West: -1, South: -1, East: 1, North: 1}
	assert.True(t, b.Contains(0, 0))
	assert.True(t, b.Contains(1, 1), "edges are inside")
	assert.False(t, b.Contains(1.01, 0))
	assert.False(t, b.Contains(0, -1.5))
}

func TestPolygonContains(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0, 10, 10), square(20, 20, 30, 30)}
	assert.True(t, PolygonContains(mp, 5, 5))
	assert.True(t, PolygonContains(mp, 25, 25))
	assert.False(t, PolygonContains(mp, 15, 15))
}

func TestPolygonContains_Hole(t *testing.T) {
	p := square(0, 0, 10, 10)
	p = append(p, orb.Ring{{4, 4}, {4, 6}, {6, 6}, {6, 4}, {4, 4}})
	mp := orb.MultiPolygon{p}
	assert.False(t, PolygonContains(mp, 5, 5))
	assert.True(t, PolygonContains(mp, 2, 2))
}

func TestDistanceMiles(t *testing.T) {
	// New York City to Philadelphia is roughly 80 miles.
	d := DistanceMiles(40.7128, -74.0060, 39.9526, -75.1652)
	assert.InDelta(t, 80, d, 3)
	assert.Zero(t, DistanceMiles(40, -74, 40, -74))
}

func TestCentroid(t *testing.T) {
	lat, lon, ok := Centroid(square(0, 0, 2, 4))
	require.True(t, ok)
	assert.InDelta(t, 2, lat, 1e-9)
	assert.InDelta(t, 1, lon, 1e-9)

	_, _, ok = Centroid(nil)
	assert.False(t, ok)
}
