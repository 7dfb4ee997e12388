package model

import "slices"

// WarningRange is the inclusive band a pump current is expected to stay in.
type WarningRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the band.
func (w WarningRange) Contains(v float64) bool { return v >= w.Min && v <= w.Max }

// WarningTolerance is the relative deviation from the rated current that is
// still considered normal.
const WarningTolerance = 0.10

// RatedWarningRange derives the default band of rated ±10%. The bounds are
// not rounded; displays format them to one decimal.
func RatedWarningRange(rated float64) WarningRange {
	return WarningRange{
		Min: rated * (1 - WarningTolerance),
		Max: rated * (1 + WarningTolerance),
	}
}

// Equipment is a manhole pump station with two pumps.
// It is persisted under the "manholes" blob document.
type Equipment struct {
	ID                   ID                         `json:"id"`
	Name                 string                     `json:"name"`
	RatedCurrent1        float64                    `json:"ratedCurrent1"`
	RatedCurrent2        float64                    `json:"ratedCurrent2"`
	OutputKw1            float64                    `json:"outputKw1"`
	OutputKw2            float64                    `json:"outputKw2"`
	CurrentWarningRange1 *WarningRange              `json:"currentWarningRange1,omitempty"`
	CurrentWarningRange2 *WarningRange              `json:"currentWarningRange2,omitempty"`
	Latitude             *float64                   `json:"latitude,omitempty"`
	Longitude            *float64                   `json:"longitude,omitempty"`
	InspectionItems      []InspectionItemDefinition `json:"inspectionItems"`
}

// Migrate back-fills fields added after the first data format:
// warning ranges from the rated currents and an empty item list.
// A missing range is always filled, even from a zero rated current.
// It reports whether anything changed.
func (e *Equipment) Migrate() bool {
	changed := false
	if e.CurrentWarningRange1 == nil {
		r := RatedWarningRange(e.RatedCurrent1)
		e.CurrentWarningRange1 = &r
		changed = true
	}
	if e.CurrentWarningRange2 == nil {
		r := RatedWarningRange(e.RatedCurrent2)
		e.CurrentWarningRange2 = &r
		changed = true
	}
	if e.InspectionItems == nil {
		e.InspectionItems = []InspectionItemDefinition{}
		changed = true
	}
	return changed
}

// Location returns the coordinates if both are set.
func (e Equipment) Location() (lat, lon float64, ok bool) {
	if e.Latitude == nil || e.Longitude == nil {
		return 0, 0, false
	}
	return *e.Latitude, *e.Longitude, true
}

// Clone returns a deep copy.
func (e Equipment) Clone() Equipment {
	out := e
	if e.CurrentWarningRange1 != nil {
		r := *e.CurrentWarningRange1
		out.CurrentWarningRange1 = &r
	}
	if e.CurrentWarningRange2 != nil {
		r := *e.CurrentWarningRange2
		out.CurrentWarningRange2 = &r
	}
	if e.Latitude != nil {
		v := *e.Latitude
		out.Latitude = &v
	}
	if e.Longitude != nil {
		v := *e.Longitude
		out.Longitude = &v
	}
	if e.InspectionItems != nil {
		out.InspectionItems = make([]InspectionItemDefinition, len(e.InspectionItems))
		for i, it := range e.InspectionItems {
			out.InspectionItems[i] = it.Clone()
		}
	}
	return out
}

// DefaultEquipment is the seed data written when no equipment exists yet.
func DefaultEquipment() []Equipment {
	pt := func(v float64) *float64 { return &v }
	return []Equipment{
		{
			ID:                   1,
			Name:                 "マンホール1",
			RatedCurrent1:        15.0,
			RatedCurrent2:        15.0,
			OutputKw1:            7.5,
			OutputKw2:            7.5,
			CurrentWarningRange1: &WarningRange{Min: 13.5, Max: 16.5},
			CurrentWarningRange2: &WarningRange{Min: 13.5, Max: 16.5},
			Latitude:             pt(35.6762),
			Longitude:            pt(139.6503),
			InspectionItems:      []InspectionItemDefinition{},
		},
		{
			ID:                   2,
			Name:                 "マンホール2",
			RatedCurrent1:        20.0,
			RatedCurrent2:        20.0,
			OutputKw1:            10.0,
			OutputKw2:            10.0,
			CurrentWarningRange1: &WarningRange{Min: 18.0, Max: 22.0},
			CurrentWarningRange2: &WarningRange{Min: 18.0, Max: 22.0},
			Latitude:             pt(35.6812),
			Longitude:            pt(139.7671),
			InspectionItems:      []InspectionItemDefinition{},
		},
	}
}

// FindEquipment returns the index of the equipment with id, or -1.
func FindEquipment(list []Equipment, id ID) int {
	return slices.IndexFunc(list, func(e Equipment) bool { return e.ID == id })
}

// Inspector is a person who performs inspections. Names are unique.
type Inspector struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt,omitempty"`
}
