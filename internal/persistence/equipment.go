package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/model"
	"manhole-inspection/internal/output"
)

// ---- equipment ----

// Equipment returns all equipment.
func (c *Coordinator) Equipment() []model.Equipment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.cloneEquipment()
}

func (c *Coordinator) EquipmentByID(id model.ID) (model.Equipment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.equipmentByID(id)
}

// commitEquipment saves list and adopts it as the mirror only on success.
func (c *Coordinator) commitEquipment(ctx context.Context, list []model.Equipment) error {
	if err := blob.Save(ctx, c.blobs, blob.KeyManholes, list); err != nil {
		return err
	}
	c.m.equipment = list
	return nil
}

// AddEquipment stores a new equipment under a generated id. Missing warning
// ranges are derived from the rated currents.
func (c *Coordinator) AddEquipment(ctx context.Context, e model.Equipment) (model.Equipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return model.Equipment{}, fmt.Errorf("%w: equipment name is required", ErrInvalidInput)
	}
	e.ID = freshID(c.ids, func(id model.ID) bool { return model.FindEquipment(c.m.equipment, id) >= 0 })
	e.Migrate()
	list := append(c.m.cloneEquipment(), e.Clone())
	if err := c.commitEquipment(ctx, list); err != nil {
		return model.Equipment{}, err
	}
	return e, nil
}

// UpdateEquipment applies edit to an equipment. The id cannot change.
func (c *Coordinator) UpdateEquipment(ctx context.Context, id model.ID, edit func(*model.Equipment)) (model.Equipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editEquipment(ctx, id, func(e *model.Equipment) error {
		edit(e)
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return fmt.Errorf("%w: equipment name is required", ErrInvalidInput)
		}
		return nil
	})
}

func (c *Coordinator) editEquipment(ctx context.Context, id model.ID, edit func(*model.Equipment) error) (model.Equipment, error) {
	list := c.m.cloneEquipment()
	i := model.FindEquipment(list, id)
	if i < 0 {
		return model.Equipment{}, fmt.Errorf("equipment %d: %w", id, ErrNotFound)
	}
	if err := edit(&list[i]); err != nil {
		return model.Equipment{}, err
	}
	list[i].ID = id
	if err := c.commitEquipment(ctx, list); err != nil {
		return model.Equipment{}, err
	}
	return list[i].Clone(), nil
}

// DeleteEquipment removes an equipment together with its inspections and
// their photos. It returns how many inspections were removed.
func (c *Coordinator) DeleteEquipment(ctx context.Context, id model.ID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.m.cloneEquipment()
	i := model.FindEquipment(list, id)
	if i < 0 {
		return 0, fmt.Errorf("equipment %d: %w", id, ErrNotFound)
	}
	n, err := c.store.DeleteInspectionsByEquipment(ctx, id)
	if err != nil {
		c.log.Error("deleting equipment inspections failed", zap.Int64("equipment", int64(id)), zap.Error(err))
	}
	if err := c.commitEquipment(ctx, slices.Delete(list, i, i+1)); err != nil {
		return n, err
	}
	return n, nil
}

// ReplaceEquipment swaps the whole collection, e.g. from an uploaded file.
func (c *Coordinator) ReplaceEquipment(ctx context.Context, list []model.Equipment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaceEquipment(ctx, list)
}

func (c *Coordinator) replaceEquipment(ctx context.Context, list []model.Equipment) error {
	next := make([]model.Equipment, len(list))
	for i, e := range list {
		next[i] = e.Clone()
		next[i].Migrate()
	}
	return c.commitEquipment(ctx, next)
}

// LoadEquipmentFile replaces the equipment collection with a JSON array.
func (c *Coordinator) LoadEquipmentFile(ctx context.Context, data []byte) (int, error) {
	var list []model.Equipment
	if err := json.Unmarshal(data, &list); err != nil || list == nil {
		return 0, fmt.Errorf("%w: expected a JSON array of equipment", ErrInvalidFormat)
	}
	return len(list), c.ReplaceEquipment(ctx, list)
}

// ExportEquipment writes the equipment collection as a timestamped artifact.
func (c *Coordinator) ExportEquipment() (string, error) {
	return blob.Export(c.blobs, output.PrefixManholes, c.Equipment())
}

// EquipmentGeoJSON is the map-marker feed.
func (c *Coordinator) EquipmentGeoJSON() *geojson.FeatureCollection {
	return output.EquipmentFeatures(c.Equipment())
}

// ---- inspection items ----

// InspectionItems returns an equipment's item definitions ordered by
// position, or the default items when it has none.
func (c *Coordinator) InspectionItems(equipmentID model.ID) ([]model.InspectionItemDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m.equipmentByID(equipmentID)
	if !ok {
		return nil, fmt.Errorf("equipment %d: %w", equipmentID, ErrNotFound)
	}
	if len(e.InspectionItems) == 0 {
		return model.DefaultInspectionItems(), nil
	}
	model.SortItems(e.InspectionItems)
	return e.InspectionItems, nil
}

// AddInspectionItem appends an item at the last position.
func (c *Coordinator) AddInspectionItem(ctx context.Context, equipmentID model.ID, item model.InspectionItemDefinition) (model.InspectionItemDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := item.Normalize(); err != nil {
		return item, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	item.ID = NewItemID()
	_, err := c.editEquipment(ctx, equipmentID, func(e *model.Equipment) error {
		model.SortItems(e.InspectionItems)
		model.Renumber(e.InspectionItems)
		item.Order = len(e.InspectionItems) + 1
		e.InspectionItems = append(e.InspectionItems, item.Clone())
		return nil
	})
	return item, err
}

// UpdateInspectionItem replaces an item's definition, keeping its position.
func (c *Coordinator) UpdateInspectionItem(ctx context.Context, equipmentID model.ID, item model.InspectionItemDefinition) (model.InspectionItemDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := item.Normalize(); err != nil {
		return item, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	_, err := c.editEquipment(ctx, equipmentID, func(e *model.Equipment) error {
		i := slices.IndexFunc(e.InspectionItems, func(d model.InspectionItemDefinition) bool { return d.ID == item.ID })
		if i < 0 {
			return fmt.Errorf("inspection item %s: %w", item.ID, ErrNotFound)
		}
		item.Order = e.InspectionItems[i].Order
		e.InspectionItems[i] = item.Clone()
		return nil
	})
	return item, err
}

// DeleteInspectionItem removes an item and closes the gap in the ordering.
func (c *Coordinator) DeleteInspectionItem(ctx context.Context, equipmentID model.ID, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.editEquipment(ctx, equipmentID, func(e *model.Equipment) error {
		before := len(e.InspectionItems)
		e.InspectionItems = slices.DeleteFunc(e.InspectionItems, func(d model.InspectionItemDefinition) bool { return d.ID == itemID })
		if len(e.InspectionItems) == before {
			return fmt.Errorf("inspection item %s: %w", itemID, ErrNotFound)
		}
		model.SortItems(e.InspectionItems)
		model.Renumber(e.InspectionItems)
		return nil
	})
	return err
}

// ReorderInspectionItems puts the listed items first in the given order,
// followed by any unlisted ones in their current order, numbered 1..N.
func (c *Coordinator) ReorderInspectionItems(ctx context.Context, equipmentID model.ID, itemIDs []string) ([]model.InspectionItemDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.editEquipment(ctx, equipmentID, func(e *model.Equipment) error {
		model.SortItems(e.InspectionItems)
		byID := make(map[string]model.InspectionItemDefinition, len(e.InspectionItems))
		for _, d := range e.InspectionItems {
			byID[d.ID] = d
		}
		next := make([]model.InspectionItemDefinition, 0, len(e.InspectionItems))
		for _, id := range itemIDs {
			d, ok := byID[id]
			if !ok {
				return fmt.Errorf("%w: unknown or repeated item %q", ErrInvalidInput, id)
			}
			next = append(next, d)
			delete(byID, id)
		}
		for _, d := range e.InspectionItems {
			if _, left := byID[d.ID]; left {
				next = append(next, d)
			}
		}
		model.Renumber(next)
		e.InspectionItems = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.InspectionItems, nil
}

// CopyInspectionItems appends copies of the source equipment's items, with
// fresh ids, to the target equipment. It returns how many were copied.
func (c *Coordinator) CopyInspectionItems(ctx context.Context, fromID, toID model.ID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.m.equipmentByID(fromID)
	if !ok {
		return 0, fmt.Errorf("equipment %d: %w", fromID, ErrNotFound)
	}
	model.SortItems(src.InspectionItems)
	_, err := c.editEquipment(ctx, toID, func(e *model.Equipment) error {
		model.SortItems(e.InspectionItems)
		for _, d := range src.InspectionItems {
			d = d.Clone()
			d.ID = NewItemID()
			e.InspectionItems = append(e.InspectionItems, d)
		}
		model.Renumber(e.InspectionItems)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(src.InspectionItems), nil
}

// ---- inspectors ----

func (c *Coordinator) Inspectors() []model.Inspector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.m.inspectors)
}

func (c *Coordinator) commitInspectors(ctx context.Context, list []model.Inspector) error {
	if err := blob.Save(ctx, c.blobs, blob.KeyInspectors, list); err != nil {
		return err
	}
	c.m.inspectors = list
	return nil
}

// checkInspectorName rejects blank names and exact duplicates. Names are
// compared as given, so " Tanaka" and "Tanaka" are different inspectors.
func (c *Coordinator) checkInspectorName(name, exceptID string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: inspector name is required", ErrInvalidInput)
	}
	for _, in := range c.m.inspectors {
		if in.Name == name && in.ID != exceptID {
			return "", fmt.Errorf("inspector %q: %w", name, ErrDuplicateName)
		}
	}
	return name, nil
}

// AddInspector registers an inspector. Names must be unique.
func (c *Coordinator) AddInspector(ctx context.Context, name string) (model.Inspector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, err := c.checkInspectorName(name, "")
	if err != nil {
		return model.Inspector{}, err
	}
	in := model.Inspector{
		ID:        c.ids.NextID().String(),
		Name:      name,
		CreatedAt: c.now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.commitInspectors(ctx, append(slices.Clone(c.m.inspectors), in)); err != nil {
		return model.Inspector{}, err
	}
	return in, nil
}

// UpdateInspector renames an inspector; the new name must be unique too.
func (c *Coordinator) UpdateInspector(ctx context.Context, id, name string) (model.Inspector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := slices.Clone(c.m.inspectors)
	i := slices.IndexFunc(list, func(in model.Inspector) bool { return in.ID == id })
	if i < 0 {
		return model.Inspector{}, fmt.Errorf("inspector %s: %w", id, ErrNotFound)
	}
	name, err := c.checkInspectorName(name, id)
	if err != nil {
		return model.Inspector{}, err
	}
	list[i].Name = name
	if err := c.commitInspectors(ctx, list); err != nil {
		return model.Inspector{}, err
	}
	return list[i], nil
}

func (c *Coordinator) DeleteInspector(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := slices.Clone(c.m.inspectors)
	i := slices.IndexFunc(list, func(in model.Inspector) bool { return in.ID == id })
	if i < 0 {
		return fmt.Errorf("inspector %s: %w", id, ErrNotFound)
	}
	return c.commitInspectors(ctx, slices.Delete(list, i, i+1))
}

// ReplaceInspectors swaps the whole collection.
func (c *Coordinator) ReplaceInspectors(ctx context.Context, list []model.Inspector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitInspectors(ctx, slices.Clone(list))
}

// LoadInspectorsFile replaces the inspector collection with a JSON array.
func (c *Coordinator) LoadInspectorsFile(ctx context.Context, data []byte) (int, error) {
	var list []model.Inspector
	if err := json.Unmarshal(data, &list); err != nil || list == nil {
		return 0, fmt.Errorf("%w: expected a JSON array of inspectors", ErrInvalidFormat)
	}
	return len(list), c.ReplaceInspectors(ctx, list)
}

// ExportInspectors writes the inspector collection as a timestamped artifact.
func (c *Coordinator) ExportInspectors() (string, error) {
	return blob.Export(c.blobs, output.PrefixInspectors, c.Inspectors())
}
