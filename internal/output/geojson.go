package output

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"manhole-inspection/internal/model"
)

// EquipmentFeatures builds the map-marker feed: one point per equipment with
// known coordinates. Equipment without a location is left out.
func EquipmentFeatures(list []model.Equipment) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range list {
		lat, lon, ok := e.Location()
		if !ok {
			continue
		}
		f := geojson.NewFeature(orb.Point{lon, lat})
		f.ID = int64(e.ID)
		f.Properties["name"] = e.Name
		f.Properties["ratedCurrent1"] = e.RatedCurrent1
		f.Properties["ratedCurrent2"] = e.RatedCurrent2
		fc.Append(f)
	}
	return fc
}
