package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"manhole-inspection/internal/model"
)

var inspections = &table[model.Inspection, model.InspectionRecord]{
	name: "inspections",
	pk:   "id",
	indexes: map[string]string{
		"manholeId":      "manhole_id",
		"inspectionDate": "inspection_date",
		"inspector":      "inspector",
		"timestamp":      "timestamp",
		"syncStatus":     "sync_status",
	},
	key: func(i model.Inspection) any { return int64(i.ID) },
	encode: func(i model.Inspection) (model.InspectionRecord, error) {
		i.Photos = nil
		doc, err := json.Marshal(i)
		if err != nil {
			return model.InspectionRecord{}, err
		}
		return model.InspectionRecord{
			ID:             int64(i.ID),
			ManholeID:      int64(i.ManholeID),
			InspectionDate: i.InspectionDate,
			Inspector:      i.Inspector,
			Timestamp:      model.FormatTimestamp(i.Timestamp),
			SyncStatus:     string(i.SyncStatus),
			Doc:            doc,
		}, nil
	},
	decode: func(r model.InspectionRecord) (model.Inspection, error) {
		var i model.Inspection
		err := json.Unmarshal(r.Doc, &i)
		return i, err
	},
}

var photos = &table[model.Photo, model.PhotoRecord]{
	name: "photos",
	pk:   "id",
	indexes: map[string]string{
		"inspectionId": "inspection_id",
		"manholeId":    "manhole_id",
		"timestamp":    "timestamp",
	},
	key: func(p model.Photo) any { return p.ID },
	encode: func(p model.Photo) (model.PhotoRecord, error) {
		doc, err := json.Marshal(p)
		if err != nil {
			return model.PhotoRecord{}, err
		}
		return model.PhotoRecord{
			ID:           p.ID,
			InspectionID: int64(p.InspectionID),
			ManholeID:    int64(p.ManholeID),
			Timestamp:    model.FormatTimestamp(p.Timestamp),
			Doc:          doc,
		}, nil
	},
	decode: func(r model.PhotoRecord) (model.Photo, error) {
		var p model.Photo
		err := json.Unmarshal(r.Doc, &p)
		return p, err
	},
}

// RecordStore is the indexed local store for inspections and photos.
// It is created closed; Initialize opens the database and brings the schema
// up to date. Every other call fails with ErrStorageUnavailable until then.
type RecordStore struct {
	path string
	log  *zap.Logger
	now  func() time.Time

	mu  sync.RWMutex
	orm *gorm.DB
	tx  bool
}

// Option customises a RecordStore.
type Option func(*RecordStore)

// WithClock replaces time.Now for timestamps the store fills in.
func WithClock(now func() time.Time) Option { return func(s *RecordStore) { s.now = now } }

// NewRecordStore returns a store for the SQLite file at path.
func NewRecordStore(path string, log *zap.Logger, opts ...Option) *RecordStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &RecordStore{path: path, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize opens the database and applies pending schema upgrades.
// Calling it again on an open store is a no-op.
func (s *RecordStore) Initialize(ctx context.Context) error {
	return s.initialize(ctx, SchemaVersion)
}

func (s *RecordStore) initialize(ctx context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orm != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrInit, err)
		}
	}
	g, err := openORM(s.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrInit, s.path, err)
	}
	if err := migrateORM(g.WithContext(ctx), version); err != nil {
		_ = closeORM(g)
		return fmt.Errorf("%w: migrate: %w", ErrInit, err)
	}
	s.orm = g
	s.log.Info("record store ready", zap.String("path", s.path), zap.Int("schema_version", version))
	return nil
}

// Ready reports whether the store is open.
func (s *RecordStore) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orm != nil
}

// Close releases the database handle. The store can be initialized again.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orm == nil || s.tx {
		return nil
	}
	err := closeORM(s.orm)
	s.orm = nil
	return err
}

func (s *RecordStore) with(fn func(db *gorm.DB) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.orm == nil {
		return ErrStorageUnavailable
	}
	return fn(s.orm)
}

// WithTx runs fn inside a single transaction. fn must use the store it is
// handed, not the outer one.
func (s *RecordStore) WithTx(ctx context.Context, fn func(tx *RecordStore) error) error {
	return s.with(func(db *gorm.DB) error {
		err := db.WithContext(ctx).Transaction(func(txdb *gorm.DB) error {
			return fn(&RecordStore{path: s.path, log: s.log, now: s.now, orm: txdb, tx: true})
		})
		if err != nil && !isKnown(err) {
			return ioError("transaction", err)
		}
		return err
	})
}

// ---- inspections ----

// AddInspection inserts a new inspection. The stored copy is marked pending
// and gets a timestamp if it has none.
func (s *RecordStore) AddInspection(ctx context.Context, insp model.Inspection) (model.Inspection, error) {
	insp.SyncStatus = model.SyncPending
	if insp.Timestamp.IsZero() {
		insp.Timestamp = s.now()
	}
	insp.Photos = nil
	err := s.with(func(db *gorm.DB) error { return inspections.add(ctx, db, insp) })
	if err != nil {
		return model.Inspection{}, err
	}
	return insp, nil
}

// UpdateInspection replaces an existing inspection, stamping updatedAt and
// resetting the sync status to pending.
func (s *RecordStore) UpdateInspection(ctx context.Context, insp model.Inspection) (model.Inspection, error) {
	insp.UpdatedAt = s.now()
	insp.SyncStatus = model.SyncPending
	insp.Photos = nil
	err := s.with(func(db *gorm.DB) error { return inspections.update(ctx, db, insp) })
	if err != nil {
		return model.Inspection{}, err
	}
	return insp, nil
}

// MarkInspectionSynced flags an inspection as pushed to the remote service.
// Only the sync collaborator calls this; local edits reset it to pending.
func (s *RecordStore) MarkInspectionSynced(ctx context.Context, id model.ID) error {
	return s.with(func(db *gorm.DB) error {
		insp, ok, err := inspections.get(ctx, db, int64(id))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("inspection %d: %w", id, ErrNotFound)
		}
		insp.SyncStatus = model.SyncSynced
		return inspections.update(ctx, db, insp)
	})
}

func (s *RecordStore) DeleteInspection(ctx context.Context, id model.ID) error {
	return s.with(func(db *gorm.DB) error { return inspections.remove(ctx, db, int64(id)) })
}

func (s *RecordStore) GetInspection(ctx context.Context, id model.ID) (model.Inspection, bool, error) {
	var (
		out model.Inspection
		ok  bool
	)
	err := s.with(func(db *gorm.DB) (err error) {
		out, ok, err = inspections.get(ctx, db, int64(id))
		return err
	})
	return out, ok, err
}

func (s *RecordStore) AllInspections(ctx context.Context) ([]model.Inspection, error) {
	var out []model.Inspection
	err := s.with(func(db *gorm.DB) (err error) {
		out, err = inspections.all(ctx, db)
		return err
	})
	return out, err
}

// InspectionsByIndex returns inspections whose index equals value. Indexes:
// manholeId, inspectionDate, inspector, timestamp, syncStatus.
func (s *RecordStore) InspectionsByIndex(ctx context.Context, index string, value any) ([]model.Inspection, error) {
	var out []model.Inspection
	err := s.with(func(db *gorm.DB) (err error) {
		out, err = inspections.byIndex(ctx, db, index, indexValue(value))
		return err
	})
	return out, err
}

func (s *RecordStore) DeleteInspectionsByIndex(ctx context.Context, index string, value any) (int, error) {
	var n int
	err := s.with(func(db *gorm.DB) (err error) {
		n, err = inspections.deleteByIndex(ctx, db, index, indexValue(value))
		return err
	})
	return n, err
}

func (s *RecordStore) ClearInspections(ctx context.Context) error {
	return s.with(func(db *gorm.DB) error { return inspections.clear(ctx, db) })
}

// ---- photos ----

// AddPhoto inserts a photo, filling its timestamp if missing.
func (s *RecordStore) AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	if err := s.with(func(db *gorm.DB) error { return photos.add(ctx, db, p) }); err != nil {
		return model.Photo{}, err
	}
	return p, nil
}

func (s *RecordStore) UpdatePhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	if err := s.with(func(db *gorm.DB) error { return photos.update(ctx, db, p) }); err != nil {
		return model.Photo{}, err
	}
	return p, nil
}

func (s *RecordStore) DeletePhoto(ctx context.Context, id string) error {
	return s.with(func(db *gorm.DB) error { return photos.remove(ctx, db, id) })
}

func (s *RecordStore) GetPhoto(ctx context.Context, id string) (model.Photo, bool, error) {
	var (
		out model.Photo
		ok  bool
	)
	err := s.with(func(db *gorm.DB) (err error) {
		out, ok, err = photos.get(ctx, db, id)
		return err
	})
	return out, ok, err
}

func (s *RecordStore) AllPhotos(ctx context.Context) ([]model.Photo, error) {
	var out []model.Photo
	err := s.with(func(db *gorm.DB) (err error) {
		out, err = photos.all(ctx, db)
		return err
	})
	return out, err
}

// PhotosByIndex returns photos whose index equals value. Indexes:
// inspectionId, manholeId, timestamp.
func (s *RecordStore) PhotosByIndex(ctx context.Context, index string, value any) ([]model.Photo, error) {
	var out []model.Photo
	err := s.with(func(db *gorm.DB) (err error) {
		out, err = photos.byIndex(ctx, db, index, indexValue(value))
		return err
	})
	return out, err
}

func (s *RecordStore) DeletePhotosByIndex(ctx context.Context, index string, value any) (int, error) {
	var n int
	err := s.with(func(db *gorm.DB) (err error) {
		n, err = photos.deleteByIndex(ctx, db, index, indexValue(value))
		return err
	})
	return n, err
}

func (s *RecordStore) ClearPhotos(ctx context.Context) error {
	return s.with(func(db *gorm.DB) error { return photos.clear(ctx, db) })
}

// ---- sync status ----

func (s *RecordStore) SetSyncStatus(ctx context.Context, key, status string) error {
	rec := model.SyncStatusRecord{Key: key, Status: status, Timestamp: s.now()}
	return s.with(func(db *gorm.DB) error {
		err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
		if err != nil {
			return ioError("sync_status set", err)
		}
		return nil
	})
}

func (s *RecordStore) GetSyncStatus(ctx context.Context, key string) (model.SyncStatusRecord, bool, error) {
	var rows []model.SyncStatusRecord
	err := s.with(func(db *gorm.DB) error {
		if err := db.WithContext(ctx).Where(&model.SyncStatusRecord{Key: key}).Limit(1).Find(&rows).Error; err != nil {
			return ioError("sync_status get", err)
		}
		return nil
	})
	if err != nil || len(rows) == 0 {
		return model.SyncStatusRecord{}, false, err
	}
	return rows[0], true, nil
}

// Stats summarises table sizes.
type Stats struct {
	Inspections int64 `json:"inspections"`
	Pending     int64 `json:"pending"`
	Photos      int64 `json:"photos"`
}

func (s *RecordStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.with(func(db *gorm.DB) (err error) {
		if st.Inspections, err = inspections.count(ctx, db); err != nil {
			return err
		}
		if st.Pending, err = inspections.count(ctx, db, "sync_status = ?", string(model.SyncPending)); err != nil {
			return err
		}
		st.Photos, err = photos.count(ctx, db)
		return err
	})
	return st, err
}

// indexValue converts domain values to their column representation.
func indexValue(v any) any {
	switch x := v.(type) {
	case model.ID:
		return int64(x)
	case model.SyncStatus:
		return string(x)
	case time.Time:
		return model.FormatTimestamp(x)
	default:
		return v
	}
}

// IsDuplicate reports a primary-key collision.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicateKey) }
