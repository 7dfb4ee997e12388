package legacy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"manhole-inspection/internal/db"
	"manhole-inspection/internal/model"
)

// NewPhotoID mints ids for inline photos that never had one.
type NewPhotoID func() string

// Bridge copies legacy inspections into the record store exactly once.
type Bridge struct {
	records *db.RecordStore
	docs    *Documents
	photoID NewPhotoID
	log     *zap.Logger
}

func NewBridge(records *db.RecordStore, docs *Documents, photoID NewPhotoID, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{records: records, docs: docs, photoID: photoID, log: log}
}

// Migrate adds every inspection of doc whose id is not yet in the record
// store, splitting inline photos into photo records. It returns the number
// of inspections added. Running it again on the same data adds nothing.
func (b *Bridge) Migrate(ctx context.Context, doc *Document) (int, error) {
	if doc == nil || len(doc.Inspections) == 0 {
		return 0, nil
	}
	existing, err := b.records.AllInspections(ctx)
	if err != nil {
		return 0, fmt.Errorf("list inspections: %w", err)
	}
	seen := make(map[model.ID]bool, len(existing))
	for _, e := range existing {
		seen[e.ID] = true
	}

	count := 0
	for _, legacy := range doc.Inspections {
		if legacy.ID == 0 || seen[legacy.ID] {
			continue
		}
		insp, inline := legacy.WithoutPhotos()
		err := b.records.WithTx(ctx, func(tx *db.RecordStore) error {
			stored, err := tx.AddInspection(ctx, insp)
			if err != nil {
				return err
			}
			for _, p := range inline {
				if p.ID == "" && b.photoID != nil {
					p.ID = b.photoID()
				}
				p.InspectionID = stored.ID
				p.ManholeID = stored.ManholeID
				if _, err := tx.AddPhoto(ctx, p); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.log.Warn("legacy inspection not migrated", zap.Int64("id", int64(legacy.ID)), zap.Error(err))
			if db.IsUnavailable(err) && !b.records.Ready() {
				return count, err
			}
			continue
		}
		seen[legacy.ID] = true
		count++
	}
	return count, nil
}

// Run loads the legacy document, migrates it, and when anything moved
// clears the document's inspections and saves it back with its other
// fields intact.
func (b *Bridge) Run(ctx context.Context) (int, error) {
	doc, err := b.docs.Load(ctx)
	if err != nil {
		return 0, err
	}
	n, err := b.Migrate(ctx, doc)
	if err != nil {
		return n, err
	}
	if n > 0 {
		doc.Inspections = []model.Inspection{}
		if err := b.docs.Save(ctx, doc); err != nil {
			return n, fmt.Errorf("clear legacy inspections: %w", err)
		}
		b.log.Info("legacy inspections migrated", zap.Int("count", n))
	}
	return n, nil
}
