package tracts

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/models"
)

// precedence breaks ties between equally ranked points.
var precedence = map[models.SourceKind]int{
	models.SourceFire:   5,
	models.SourceQuake:  4,
	models.SourceEONET:  3,
	models.SourceNWS:    2,
	models.SourceReport: 1,
}

// CandidatePoints keeps ranked points inside bbox, ordered by rank
// descending and then by source precedence.
func CandidatePoints(points []models.PointFeature, bbox geo.BBox) []models.PointFeature {
	out := make([]models.PointFeature, 0, len(points))
	for _, p := range points {
		if !p.Rank.Ranked() || !bbox.Contains(p.Lat, p.Lon) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return precedence[out[i].Source] > precedence[out[j].Source]
	})
	return out
}

// Rank colors every polygonal feature of fc with the first contained point
// of sorted, which must come from CandidatePoints. Features that are not
// Polygon or MultiPolygon are skipped.
func Rank(fc *geojson.FeatureCollection, sorted []models.PointFeature) []models.Tract {
	if fc == nil {
		return nil
	}
	out := make([]models.Tract, 0, len(fc.Features))
	for i, f := range fc.Features {
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			continue
		}

		t := models.Tract{
			ID:         featureID(f, i),
			Geometry:   mp,
			Rank:       models.RankNone,
			Properties: map[string]any(f.Properties),
		}
		for _, p := range sorted {
			if geo.PolygonContains(mp, p.Lat, p.Lon) {
				t.Rank = p.Rank
				t.Source = p.Source
				break
			}
		}
		out = append(out, t)
	}
	return out
}

func featureID(f *geojson.Feature, i int) string {
	if f.ID != nil {
		switch id := f.ID.(type) {
		case string:
			if id != "" {
				return id
			}
		default:
			return fmt.Sprint(id)
		}
	}
	for _, key := range []string{"GEOID", "geoid", "id"} {
		if v, ok := f.Properties[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("tract-%d", i)
}
