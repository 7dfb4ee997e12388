package model

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// SyncStatus tracks whether a record has been pushed to a remote service.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// CustomItem is the recorded value of one InspectionItemDefinition.
type CustomItem struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Type  ItemType `json:"type"`
	Value any      `json:"value"`
}

// Inspection is a single field visit to an equipment.
//
// Photos is only populated for records kept on the legacy path, where
// photos are stored inline; records in the indexed store keep photos in
// their own table.
type Inspection struct {
	ID             ID     `json:"id"`
	ManholeID      ID     `json:"manholeId"`
	ManholeName    string `json:"manholeName,omitempty"`
	InspectionDate string `json:"inspectionDate"`
	Inspector      string `json:"inspector"`

	OperationMode string  `json:"operation-mode,omitempty"`
	PumpSelection string  `json:"pump-selection,omitempty"`
	No1Hour       Reading `json:"no1Hour,omitzero"`
	No2Hour       Reading `json:"no2Hour,omitzero"`
	Voltage       Reading `json:"voltage,omitzero"`
	No1Current    Reading `json:"no1Current,omitzero"`
	No2Current    Reading `json:"no2Current,omitzero"`

	OperationWaterLevel     Reading `json:"operationWaterLevel,omitzero"`
	OperationWaterLevelUnit string  `json:"operationWaterLevelUnit,omitempty"`
	AbnormalWaterLevel      Reading `json:"abnormalWaterLevel,omitzero"`
	AbnormalWaterLevelUnit  string  `json:"abnormalWaterLevelUnit,omitempty"`

	CustomItems []CustomItem `json:"customItems,omitzero"`
	Memo        string       `json:"memo,omitempty"`
	Remarks     string       `json:"remarks,omitempty"`

	Timestamp  time.Time  `json:"timestamp,omitzero"`
	UpdatedAt  time.Time  `json:"updatedAt,omitzero"`
	ImportedAt time.Time  `json:"importedAt,omitzero"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`

	Photos []Photo `json:"photos,omitempty"`

	Extra Fields `json:"-"`
}

type inspectionJSON Inspection

var inspectionNames = jsonNames(inspectionJSON{})

func (i *Inspection) UnmarshalJSON(b []byte) error {
	var v inspectionJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	extra, err := unknownFields(b, inspectionNames)
	if err != nil {
		return err
	}
	*i = Inspection(v)
	i.Extra = extra
	return nil
}

func (i Inspection) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(inspectionJSON(i))
	if err != nil {
		return nil, err
	}
	return appendFields(b, i.Extra)
}

const dateLayout = "2006-01-02"

// Date parses InspectionDate. Plain dates are taken as UTC midnight; full
// RFC 3339 timestamps are accepted as well.
func (i Inspection) Date() (time.Time, bool) {
	if t, err := time.Parse(dateLayout, i.InspectionDate); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, i.InspectionDate); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Clone returns a deep copy. CustomItem values are treated as immutable.
func (i Inspection) Clone() Inspection {
	out := i
	out.CustomItems = slices.Clone(i.CustomItems)
	out.Photos = slices.Clone(i.Photos)
	for k := range out.Photos {
		out.Photos[k].Extra = maps.Clone(i.Photos[k].Extra)
	}
	out.Extra = maps.Clone(i.Extra)
	return out
}

// WithoutPhotos returns the inspection and its inline photos separately.
func (i Inspection) WithoutPhotos() (Inspection, []Photo) {
	photos := i.Photos
	i.Photos = nil
	return i, photos
}

// Photo is an image attached to an inspection. Data holds the encoded image
// (usually a data URL).
type Photo struct {
	ID           string    `json:"id"`
	InspectionID ID        `json:"inspectionId"`
	ManholeID    ID        `json:"manholeId"`
	Name         string    `json:"name,omitempty"`
	Data         string    `json:"data"`
	Timestamp    time.Time `json:"timestamp,omitzero"`

	Extra Fields `json:"-"`
}

type photoJSON Photo

var photoNames = jsonNames(photoJSON{})

func (p *Photo) UnmarshalJSON(b []byte) error {
	var v photoJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	extra, err := unknownFields(b, photoNames)
	if err != nil {
		return err
	}
	*p = Photo(v)
	p.Extra = extra
	return nil
}

func (p Photo) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(photoJSON(p))
	if err != nil {
		return nil, err
	}
	return appendFields(b, p.Extra)
}

// SortByDateDesc orders inspections newest first by inspection date. Records
// whose date does not parse sort last.
func SortByDateDesc(list []Inspection) {
	slices.SortStableFunc(list, func(a, b Inspection) int {
		ta, oka := a.Date()
		tb, okb := b.Date()
		switch {
		case oka && !okb:
			return -1
		case !oka && okb:
			return 1
		}
		return tb.Compare(ta)
	})
}
