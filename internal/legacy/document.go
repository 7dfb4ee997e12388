// Package legacy reads the single-document format older clients kept all
// data in, and moves its inspections into the record store.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/model"
)

// Document is the legacy all-in-one document. Only the inspections array
// is interpreted; every other field is carried through unchanged.
type Document struct {
	Inspections []model.Inspection
	// Skipped counts inspection entries that could not be decoded.
	Skipped int
	// Renumbered counts inspections given a fresh id because theirs was
	// not an integer.
	Renumbered int

	remap *model.IDRemap
	rest  map[string]json.RawMessage
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.rest = raw
	d.Inspections = nil
	d.Skipped = 0
	d.Renumbered = 0
	items, ok := raw["inspections"]
	if !ok {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(items, &list); err != nil {
		return fmt.Errorf("inspections: %w", err)
	}
	for _, item := range list {
		var insp model.Inspection
		if err := json.Unmarshal(d.remap.Inspection(item), &insp); err != nil {
			d.Skipped++
			continue
		}
		d.Inspections = append(d.Inspections, insp)
	}
	d.Renumbered = d.remap.Len()
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.rest)+1)
	for k, v := range d.rest {
		out[k] = v
	}
	list := d.Inspections
	if list == nil {
		list = []model.Inspection{}
	}
	out["inspections"] = list
	return json.Marshal(out)
}

// Field returns a raw top-level field other than inspections.
func (d *Document) Field(name string) (json.RawMessage, bool) {
	v, ok := d.rest[name]
	return v, ok
}

// Documents loads and saves the legacy document through a blob store.
type Documents struct {
	store  *blob.Store
	key    string
	log    *zap.Logger
	nextID func() model.ID
}

func NewDocuments(store *blob.Store, log *zap.Logger) *Documents {
	if log == nil {
		log = zap.NewNop()
	}
	return &Documents{store: store, key: blob.KeyLegacy, log: log}
}

// SetIDSource lets Load give inspections with non-integer ids a fresh id
// from next. Without it such inspections are counted as skipped.
func (d *Documents) SetIDSource(next func() model.ID) { d.nextID = next }

// Load returns the stored document; a missing document is empty.
func (d *Documents) Load(ctx context.Context) (*Document, error) {
	doc := &Document{}
	if d.nextID != nil {
		doc.remap = model.NewIDRemap(d.nextID)
	}
	if _, err := d.store.ReadDocument(ctx, d.key, doc); err != nil {
		return &Document{}, err
	}
	if doc.Skipped > 0 {
		d.log.Warn("legacy document has undecodable inspections", zap.Int("skipped", doc.Skipped))
	}
	if doc.Renumbered > 0 {
		d.log.Info("legacy inspections given new ids", zap.Int("count", doc.Renumbered))
	}
	return doc, nil
}

func (d *Documents) Save(ctx context.Context, doc *Document) error {
	return d.store.WriteDocument(ctx, d.key, doc)
}
