package persistence

import (
	"context"
	"fmt"
	"time"

	"manhole-inspection/internal/model"
)

// AddInspection records a new inspection. Inline photos are split off and
// stored as photo records of the new inspection. The id is generated unless
// in already carries one, and manholeName defaults to the equipment's name.
func (c *Coordinator) AddInspection(ctx context.Context, in model.Inspection) (model.Inspection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eq, ok := c.m.equipmentByID(in.ManholeID)
	if !ok {
		return model.Inspection{}, fmt.Errorf("equipment %d: %w", in.ManholeID, ErrNotFound)
	}
	insp, photos := in.WithoutPhotos()
	if insp.ManholeName == "" {
		insp.ManholeName = eq.Name
	}
	if insp.ID == 0 {
		insp.ID = c.newInspectionID()
	}
	for i := range photos {
		if photos[i].ID == "" {
			photos[i].ID = NewPhotoID()
		}
	}
	return c.store.AddInspection(ctx, insp, photos)
}

func (c *Coordinator) newInspectionID() model.ID {
	return freshID(c.ids, func(id model.ID) bool { return c.m.inspectionIndex(id) >= 0 })
}

// UpdateInspection applies edit to the stored inspection. The id cannot be
// changed; updatedAt and the pending sync state are set by the store.
func (c *Coordinator) UpdateInspection(ctx context.Context, id model.ID, edit func(*model.Inspection)) (model.Inspection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.m.inspection(id)
	if !ok {
		return model.Inspection{}, fmt.Errorf("inspection %d: %w", id, ErrNotFound)
	}
	edit(&cur)
	cur.ID = id
	return c.store.UpdateInspection(ctx, cur)
}

// DeleteInspection removes an inspection and its photos.
func (c *Coordinator) DeleteInspection(ctx context.Context, id model.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.DeleteInspection(ctx, id)
}

// Inspection returns one inspection from the mirror.
func (c *Coordinator) Inspection(id model.ID) (model.Inspection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.inspection(id)
}

// Inspections returns every inspection in the mirror.
func (c *Coordinator) Inspections() []model.Inspection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.cloneInspections(nil)
}

// FilteredInspections returns inspections of one equipment (or all when
// equipmentID is nil) dated within period, newest first. The record store
// is asked first; the mirror answers when it cannot.
func (c *Coordinator) FilteredInspections(ctx context.Context, equipmentID *model.ID, period Period) ([]model.Inspection, error) {
	days, err := period.Days()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var list []model.Inspection
	if equipmentID != nil {
		list, err = c.store.InspectionsByEquipment(ctx, *equipmentID)
	} else {
		list, err = c.store.Inspections(ctx)
	}
	if err != nil {
		return nil, err
	}
	list = withinDays(list, days, c.now())
	model.SortByDateDesc(list)
	return list, nil
}

// MonthlyInspections returns inspections dated in the given calendar month
// (1-12), newest first.
func (c *Coordinator) MonthlyInspections(ctx context.Context, year, month int) ([]model.Inspection, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	list, err := c.store.Inspections(ctx)
	if err != nil {
		return nil, err
	}
	list = inMonth(list, year, time.Month(month))
	model.SortByDateDesc(list)
	return list, nil
}

// LastInspection returns the most recent inspection of an equipment.
func (c *Coordinator) LastInspection(ctx context.Context, equipmentID model.ID) (model.Inspection, bool, error) {
	list, err := c.FilteredInspections(ctx, &equipmentID, PeriodAll)
	if err != nil || len(list) == 0 {
		return model.Inspection{}, false, err
	}
	return list[0], true, nil
}

// PhotosByInspection returns the photos attached to an inspection.
func (c *Coordinator) PhotosByInspection(ctx context.Context, inspectionID model.ID) ([]model.Photo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.PhotosByInspection(ctx, inspectionID)
}

func (c *Coordinator) AllPhotos(ctx context.Context) ([]model.Photo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Photos(ctx)
}

func (c *Coordinator) DeletePhoto(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.DeletePhoto(ctx, id)
}
