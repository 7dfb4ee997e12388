// Package persistence owns the application's data: the in-memory mirror the
// UI reads, and the stores that make it durable.
package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/db"
	"manhole-inspection/internal/legacy"
	"manhole-inspection/internal/model"
)

// Coordinator is the single entry point for reading and changing data.
// Create it with New, call LoadAll once, and Close when done. All methods
// are safe for concurrent use; multi-step writes are serialised.
type Coordinator struct {
	records *db.RecordStore
	blobs   *blob.Store
	docs    *legacy.Documents
	bridge  *legacy.Bridge
	ids     IDGenerator
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	m     *mirror
	store PersistentStore
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator replaces the default MonotonicIDs.
func WithIDGenerator(g IDGenerator) Option { return func(c *Coordinator) { c.ids = g } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// New wires a coordinator over an indexed record store and a blob store.
// The record store may still be closed; LoadAll initializes it.
func New(records *db.RecordStore, blobs *blob.Store, log *zap.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{records: records, blobs: blobs, log: log, now: time.Now, m: &mirror{}}
	for _, o := range opts {
		o(c)
	}
	if c.ids == nil {
		c.ids = NewMonotonicIDs(c.now)
	}
	c.docs = legacy.NewDocuments(blobs, log)
	c.docs.SetIDSource(c.newInspectionID)
	c.bridge = legacy.NewBridge(records, c.docs, NewPhotoID, log)
	c.store = &failoverStore{
		primary:   &IndexedRecordStore{records: records, m: c.m},
		secondary: &MirrorOnlyFallbackStore{m: c.m, docs: c.docs, now: c.now},
		log:       log,
	}
	return c
}

// LoadAll fills the mirror. It never leaves the coordinator unusable: when a
// step fails the problem is logged and defaults or the legacy document are
// used instead. Only context cancellation is returned.
//
// Order: open the record store; load equipment and inspectors; seed default
// equipment or migrate existing entries; load inspections; migrate legacy
// inspections.
func (c *Coordinator) LoadAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.records.Initialize(ctx); err != nil {
		c.log.Error("record store unavailable, running on fallback store", zap.Error(err))
	}

	c.m.equipment = blob.Load[model.Equipment](ctx, c.blobs, blob.KeyManholes)
	c.m.inspectors = blob.Load[model.Inspector](ctx, c.blobs, blob.KeyInspectors)
	c.loadEquipmentDefaults(ctx)

	c.m.inspections = []model.Inspection{}
	if c.records.Ready() {
		if err := c.loadIndexedInspections(ctx); err != nil {
			c.log.Error("loading inspections failed, using legacy document", zap.Error(err))
			c.loadLegacyInspections(ctx)
		}
	} else {
		c.loadLegacyInspections(ctx)
	}

	c.log.Info("data loaded",
		zap.Int("equipment", len(c.m.equipment)),
		zap.Int("inspectors", len(c.m.inspectors)),
		zap.Int("inspections", len(c.m.inspections)))
	return ctx.Err()
}

func (c *Coordinator) loadEquipmentDefaults(ctx context.Context) {
	if len(c.m.equipment) == 0 {
		c.m.equipment = model.DefaultEquipment()
		if err := blob.Save(ctx, c.blobs, blob.KeyManholes, c.m.equipment); err != nil {
			c.log.Error("saving default equipment failed", zap.Error(err))
		}
		return
	}
	changed := false
	for i := range c.m.equipment {
		if c.m.equipment[i].Migrate() {
			changed = true
		}
	}
	if changed {
		if err := blob.Save(ctx, c.blobs, blob.KeyManholes, c.m.equipment); err != nil {
			c.log.Error("saving migrated equipment failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) loadIndexedInspections(ctx context.Context) error {
	list, err := c.records.AllInspections(ctx)
	if err != nil {
		return err
	}
	c.m.inspections = list
	n, err := c.bridge.Run(ctx)
	if err != nil {
		c.log.Warn("legacy migration incomplete", zap.Error(err))
	}
	if n > 0 {
		if list, err = c.records.AllInspections(ctx); err != nil {
			return err
		}
		c.m.inspections = list
	}
	return nil
}

func (c *Coordinator) loadLegacyInspections(ctx context.Context) {
	doc, err := c.docs.Load(ctx)
	if err != nil {
		c.log.Error("legacy document unreadable", zap.Error(err))
		return
	}
	if doc.Inspections != nil {
		c.m.inspections = doc.Inspections
	}
}

// Close releases the record store.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records.Close()
}

// DataSource names where inspections are currently persisted.
func (c *Coordinator) DataSource() string {
	if c.records.Ready() {
		return SourceDatabase
	}
	return SourceLocal
}
