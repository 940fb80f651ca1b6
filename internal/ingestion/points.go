package ingestion

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-pulsemap/internal/geo"
	"github.com/mr1hm/go-pulsemap/internal/models"
	"github.com/mr1hm/go-pulsemap/internal/severity"
)

// ReportPoints ranks each community report from its severity and category
// properties. Only Point geometries are used.
func ReportPoints(fc *geojson.FeatureCollection) []models.PointFeature {
	if fc == nil {
		return nil
	}
	out := make([]models.PointFeature, 0, len(fc.Features))
	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		rank := severity.Classify(f.Properties["severity"], f.Properties.MustString("category", ""))
		out = append(out, point(p, rank, models.SourceReport))
	}
	return out
}

// AlertPoints handles NWS alerts, which carry either a point or an area.
// Areas are reduced to their centroid.
func AlertPoints(fc *geojson.FeatureCollection) []models.PointFeature {
	if fc == nil {
		return nil
	}
	out := make([]models.PointFeature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		lat, lon, ok := geo.Centroid(f.Geometry)
		if !ok {
			continue
		}
		rank := severity.Classify(f.Properties["severity"], f.Properties.MustString("event", ""))
		out = append(out, models.PointFeature{Lat: lat, Lon: lon, Rank: rank, Source: models.SourceNWS})
	}
	return out
}

// NaturalPoints marks every Point (and each member of a MultiPoint) HIGH.
func NaturalPoints(fc *geojson.FeatureCollection, kind models.SourceKind) []models.PointFeature {
	if fc == nil {
		return nil
	}
	out := make([]models.PointFeature, 0, len(fc.Features))
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Point:
			out = append(out, point(g, models.RankHigh, kind))
		case orb.MultiPoint:
			for _, p := range g {
				out = append(out, point(p, models.RankHigh, kind))
			}
		}
	}
	return out
}

func point(p orb.Point, rank models.SeverityRank, kind models.SourceKind) models.PointFeature {
	return models.PointFeature{Lat: p.Lat(), Lon: p.Lon(), Rank: rank, Source: kind}
}
