package api

import (
	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-pulsemap/internal/tracts"
)

// Fill opacity of ranked and unranked tracts.
const (
	RankedOpacity   = 0.18
	BaselineOpacity = 0.05
)

// OverlayGeoJSON renders the overlay with the style properties a map layer
// needs. Source properties are kept unless they collide with a style key.
func OverlayGeoJSON(ov tracts.Overlay) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"token":   ov.Token,
		"cleared": ov.Cleared,
	}
	if ov.Bounds != nil {
		fc.BBox = geojson.BBox{ov.Bounds.West, ov.Bounds.South, ov.Bounds.East, ov.Bounds.North}
	}

	for _, t := range ov.Tracts {
		f := geojson.NewFeature(t.Geometry)
		f.ID = t.ID
		for k, v := range t.Properties {
			f.Properties[k] = v
		}

		opacity := BaselineOpacity
		if t.Rank.Ranked() {
			opacity = RankedOpacity
		}
		f.Properties["id"] = t.ID
		f.Properties["rank"] = t.Rank.String()
		f.Properties["fill"] = t.Rank.Color()
		f.Properties["fill-opacity"] = opacity
		if t.Source != "" {
			f.Properties["source"] = string(t.Source)
		}
		fc.Append(f)
	}

	return fc
}
