package persistence

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"manhole-inspection/internal/db"
	"manhole-inspection/internal/legacy"
	"manhole-inspection/internal/model"
)

// PersistentStore is where inspections and photos are made durable. Every
// implementation keeps the mirror in step with what it stored.
type PersistentStore interface {
	Inspections(ctx context.Context) ([]model.Inspection, error)
	InspectionsByEquipment(ctx context.Context, equipmentID model.ID) ([]model.Inspection, error)
	AddInspection(ctx context.Context, insp model.Inspection, photos []model.Photo) (model.Inspection, error)
	UpdateInspection(ctx context.Context, insp model.Inspection) (model.Inspection, error)
	DeleteInspection(ctx context.Context, id model.ID) error
	DeleteInspectionsByEquipment(ctx context.Context, equipmentID model.ID) (int, error)

	Photos(ctx context.Context) ([]model.Photo, error)
	PhotosByInspection(ctx context.Context, inspectionID model.ID) ([]model.Photo, error)
	AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error)
	UpdatePhoto(ctx context.Context, p model.Photo) (model.Photo, error)
	DeletePhoto(ctx context.Context, id string) error
}

// ---- indexed ----

// IndexedRecordStore writes through to the record store, then updates the
// mirror. Photos live in their own table.
type IndexedRecordStore struct {
	records *db.RecordStore
	m       *mirror
}

func (s *IndexedRecordStore) Inspections(ctx context.Context) ([]model.Inspection, error) {
	return s.records.AllInspections(ctx)
}

func (s *IndexedRecordStore) InspectionsByEquipment(ctx context.Context, id model.ID) ([]model.Inspection, error) {
	return s.records.InspectionsByIndex(ctx, "manholeId", id)
}

// AddInspection stores the inspection first and then each photo tagged with
// the inspection's id, all in one transaction.
func (s *IndexedRecordStore) AddInspection(ctx context.Context, insp model.Inspection, photos []model.Photo) (model.Inspection, error) {
	var stored model.Inspection
	err := s.records.WithTx(ctx, func(tx *db.RecordStore) error {
		var err error
		if stored, err = tx.AddInspection(ctx, insp); err != nil {
			return err
		}
		for _, p := range photos {
			p.InspectionID = stored.ID
			p.ManholeID = stored.ManholeID
			if _, err := tx.AddPhoto(ctx, p); err != nil {
				return fmt.Errorf("photo %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Inspection{}, err
	}
	s.m.upsertInspection(stored)
	return stored, nil
}

func (s *IndexedRecordStore) UpdateInspection(ctx context.Context, insp model.Inspection) (model.Inspection, error) {
	stored, err := s.records.UpdateInspection(ctx, insp)
	if err != nil {
		return model.Inspection{}, err
	}
	s.m.upsertInspection(stored)
	return stored, nil
}

func (s *IndexedRecordStore) DeleteInspection(ctx context.Context, id model.ID) error {
	err := s.records.WithTx(ctx, func(tx *db.RecordStore) error {
		if _, err := tx.DeletePhotosByIndex(ctx, "inspectionId", id); err != nil {
			return err
		}
		return tx.DeleteInspection(ctx, id)
	})
	if err != nil {
		return err
	}
	s.m.removeInspection(id)
	return nil
}

func (s *IndexedRecordStore) DeleteInspectionsByEquipment(ctx context.Context, id model.ID) (int, error) {
	var n int
	err := s.records.WithTx(ctx, func(tx *db.RecordStore) error {
		list, err := tx.InspectionsByIndex(ctx, "manholeId", id)
		if err != nil {
			return err
		}
		for _, insp := range list {
			if _, err := tx.DeletePhotosByIndex(ctx, "inspectionId", insp.ID); err != nil {
				return err
			}
		}
		if _, err := tx.DeletePhotosByIndex(ctx, "manholeId", id); err != nil {
			return err
		}
		n, err = tx.DeleteInspectionsByIndex(ctx, "manholeId", id)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.m.removeByEquipment(id)
	return n, nil
}

func (s *IndexedRecordStore) Photos(ctx context.Context) ([]model.Photo, error) {
	return s.records.AllPhotos(ctx)
}

func (s *IndexedRecordStore) PhotosByInspection(ctx context.Context, id model.ID) ([]model.Photo, error) {
	return s.records.PhotosByIndex(ctx, "inspectionId", id)
}

func (s *IndexedRecordStore) AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	return s.records.AddPhoto(ctx, p)
}

func (s *IndexedRecordStore) UpdatePhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	return s.records.UpdatePhoto(ctx, p)
}

func (s *IndexedRecordStore) DeletePhoto(ctx context.Context, id string) error {
	return s.records.DeletePhoto(ctx, id)
}

// ---- mirror only ----

// MirrorOnlyFallbackStore keeps everything in the mirror with photos inline
// and snapshots the mirror's inspections into the legacy document, which the
// legacy bridge moves into the record store on a later start.
type MirrorOnlyFallbackStore struct {
	m    *mirror
	docs *legacy.Documents
	now  func() time.Time
}

func (s *MirrorOnlyFallbackStore) persist(ctx context.Context) error {
	doc, err := s.docs.Load(ctx)
	if err != nil {
		doc = &legacy.Document{}
	}
	doc.Inspections = s.m.cloneInspections(nil)
	if err := s.docs.Save(ctx, doc); err != nil {
		return fmt.Errorf("%w: legacy document: %w", db.ErrIO, err)
	}
	return nil
}

func (s *MirrorOnlyFallbackStore) Inspections(context.Context) ([]model.Inspection, error) {
	return s.m.cloneInspections(nil), nil
}

func (s *MirrorOnlyFallbackStore) InspectionsByEquipment(_ context.Context, id model.ID) ([]model.Inspection, error) {
	return s.m.cloneInspections(func(i model.Inspection) bool { return i.ManholeID == id }), nil
}

func (s *MirrorOnlyFallbackStore) AddInspection(ctx context.Context, insp model.Inspection, photos []model.Photo) (model.Inspection, error) {
	if s.m.inspectionIndex(insp.ID) >= 0 {
		return model.Inspection{}, fmt.Errorf("inspection %d: %w", insp.ID, db.ErrDuplicateKey)
	}
	now := s.now()
	insp.SyncStatus = model.SyncPending
	if insp.Timestamp.IsZero() {
		insp.Timestamp = now
	}
	insp.Photos = nil
	for _, p := range photos {
		p.InspectionID = insp.ID
		p.ManholeID = insp.ManholeID
		if p.Timestamp.IsZero() {
			p.Timestamp = now
		}
		insp.Photos = append(insp.Photos, p)
	}
	s.m.upsertInspection(insp)
	return insp, s.persist(ctx)
}

func (s *MirrorOnlyFallbackStore) UpdateInspection(ctx context.Context, insp model.Inspection) (model.Inspection, error) {
	cur, ok := s.m.inspection(insp.ID)
	if !ok {
		return model.Inspection{}, fmt.Errorf("inspection %d: %w", insp.ID, db.ErrNotFound)
	}
	if insp.Photos == nil {
		insp.Photos = cur.Photos
	}
	insp.UpdatedAt = s.now()
	insp.SyncStatus = model.SyncPending
	s.m.upsertInspection(insp)
	return insp, s.persist(ctx)
}

func (s *MirrorOnlyFallbackStore) DeleteInspection(ctx context.Context, id model.ID) error {
	if _, ok := s.m.inspection(id); !ok {
		return fmt.Errorf("inspection %d: %w", id, db.ErrNotFound)
	}
	s.m.removeInspection(id)
	return s.persist(ctx)
}

func (s *MirrorOnlyFallbackStore) DeleteInspectionsByEquipment(ctx context.Context, id model.ID) (int, error) {
	n := s.m.removeByEquipment(id)
	return n, s.persist(ctx)
}

func (s *MirrorOnlyFallbackStore) Photos(context.Context) ([]model.Photo, error) {
	out := make([]model.Photo, 0)
	for _, insp := range s.m.inspections {
		out = append(out, insp.Photos...)
	}
	return out, nil
}

func (s *MirrorOnlyFallbackStore) PhotosByInspection(_ context.Context, id model.ID) ([]model.Photo, error) {
	insp, _ := s.m.inspection(id)
	if insp.Photos == nil {
		return []model.Photo{}, nil
	}
	return insp.Photos, nil
}

func (s *MirrorOnlyFallbackStore) AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	insp, ok := s.m.inspection(p.InspectionID)
	if !ok {
		return model.Photo{}, fmt.Errorf("inspection %d for photo %s: %w", p.InspectionID, p.ID, db.ErrNotFound)
	}
	if slices.ContainsFunc(insp.Photos, func(x model.Photo) bool { return x.ID == p.ID }) {
		return model.Photo{}, fmt.Errorf("photo %s: %w", p.ID, db.ErrDuplicateKey)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	insp.Photos = append(insp.Photos, p)
	s.m.upsertInspection(insp)
	return p, s.persist(ctx)
}

func (s *MirrorOnlyFallbackStore) UpdatePhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	insp, ok := s.m.inspection(p.InspectionID)
	i := slices.IndexFunc(insp.Photos, func(x model.Photo) bool { return x.ID == p.ID })
	if !ok || i < 0 {
		return model.Photo{}, fmt.Errorf("photo %s: %w", p.ID, db.ErrNotFound)
	}
	insp.Photos[i] = p
	s.m.upsertInspection(insp)
	return p, s.persist(ctx)
}

func (s *MirrorOnlyFallbackStore) DeletePhoto(ctx context.Context, id string) error {
	for _, insp := range s.m.inspections {
		if !slices.ContainsFunc(insp.Photos, func(x model.Photo) bool { return x.ID == id }) {
			continue
		}
		insp = insp.Clone()
		insp.Photos = slices.DeleteFunc(insp.Photos, func(x model.Photo) bool { return x.ID == id })
		s.m.upsertInspection(insp)
		return s.persist(ctx)
	}
	return fmt.Errorf("photo %s: %w", id, db.ErrNotFound)
}

// ---- failover ----

// failoverStore tries the primary store and repeats the call on the
// secondary when the primary is unavailable or fails with an I/O error.
// Other errors (not found, duplicate key) are returned as they are.
type failoverStore struct {
	primary   PersistentStore
	secondary PersistentStore
	log       *zap.Logger
}

func failover[T any](f *failoverStore, op string, call func(PersistentStore) (T, error)) (T, error) {
	out, err := call(f.primary)
	if err == nil || !db.IsUnavailable(err) {
		return out, err
	}
	f.log.Warn("record store failed, using fallback store", zap.String("op", op), zap.Error(err))
	return call(f.secondary)
}

func (f *failoverStore) Inspections(ctx context.Context) ([]model.Inspection, error) {
	return failover(f, "list inspections", func(s PersistentStore) ([]model.Inspection, error) {
		return s.Inspections(ctx)
	})
}

func (f *failoverStore) InspectionsByEquipment(ctx context.Context, id model.ID) ([]model.Inspection, error) {
	return failover(f, "query inspections", func(s PersistentStore) ([]model.Inspection, error) {
		return s.InspectionsByEquipment(ctx, id)
	})
}

func (f *failoverStore) AddInspection(ctx context.Context, insp model.Inspection, photos []model.Photo) (model.Inspection, error) {
	return failover(f, "add inspection", func(s PersistentStore) (model.Inspection, error) {
		return s.AddInspection(ctx, insp, photos)
	})
}

func (f *failoverStore) UpdateInspection(ctx context.Context, insp model.Inspection) (model.Inspection, error) {
	return failover(f, "update inspection", func(s PersistentStore) (model.Inspection, error) {
		return s.UpdateInspection(ctx, insp)
	})
}

func (f *failoverStore) DeleteInspection(ctx context.Context, id model.ID) error {
	_, err := failover(f, "delete inspection", func(s PersistentStore) (struct{}, error) {
		return struct{}{}, s.DeleteInspection(ctx, id)
	})
	return err
}

func (f *failoverStore) DeleteInspectionsByEquipment(ctx context.Context, id model.ID) (int, error) {
	return failover(f, "delete equipment inspections", func(s PersistentStore) (int, error) {
		return s.DeleteInspectionsByEquipment(ctx, id)
	})
}

func (f *failoverStore) Photos(ctx context.Context) ([]model.Photo, error) {
	return failover(f, "list photos", func(s PersistentStore) ([]model.Photo, error) {
		return s.Photos(ctx)
	})
}

func (f *failoverStore) PhotosByInspection(ctx context.Context, id model.ID) ([]model.Photo, error) {
	return failover(f, "query photos", func(s PersistentStore) ([]model.Photo, error) {
		return s.PhotosByInspection(ctx, id)
	})
}

func (f *failoverStore) AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	return failover(f, "add photo", func(s PersistentStore) (model.Photo, error) {
		return s.AddPhoto(ctx, p)
	})
}

func (f *failoverStore) UpdatePhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	return failover(f, "update photo", func(s PersistentStore) (model.Photo, error) {
		return s.UpdatePhoto(ctx, p)
	})
}

func (f *failoverStore) DeletePhoto(ctx context.Context, id string) error {
	_, err := failover(f, "delete photo", func(s PersistentStore) (struct{}, error) {
		return struct{}{}, s.DeletePhoto(ctx, id)
	})
	return err
}
