package model

import (
	"time"

	"gorm.io/datatypes"
)

// InspectionRecord is the row layout of the inspections table. Indexed
// columns are copied out of the document so they can be queried; Doc holds
// the complete record.
type InspectionRecord struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	ManholeID      int64          `gorm:"column:manhole_id;index"`
	InspectionDate string         `gorm:"column:inspection_date;index"`
	Inspector      string         `gorm:"column:inspector;index"`
	Timestamp      string         `gorm:"column:timestamp;index"`
	SyncStatus     string         `gorm:"column:sync_status;index"`
	Doc            datatypes.JSON `gorm:"column:doc"`
}

func (InspectionRecord) TableName() string { return "inspections" }

// PhotoRecord is the row layout of the photos table.
type PhotoRecord struct {
	ID           string         `gorm:"column:id;primaryKey"`
	InspectionID int64          `gorm:"column:inspection_id;index"`
	ManholeID    int64          `gorm:"column:manhole_id;index"`
	Timestamp    string         `gorm:"column:timestamp;index"`
	Doc          datatypes.JSON `gorm:"column:doc"`
}

func (PhotoRecord) TableName() string { return "photos" }

// SyncStatusRecord keeps the last sync state per key.
type SyncStatusRecord struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Status    string    `gorm:"column:status"`
	Timestamp time.Time `gorm:"column:timestamp"`
}

func (SyncStatusRecord) TableName() string { return "sync_status" }

// FormatTimestamp renders t the way indexed timestamp columns store it, so
// lexical order equals chronological order.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
