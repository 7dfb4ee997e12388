package persistence

import (
	"slices"

	"manhole-inspection/internal/model"
)

// mirror is the in-memory copy of all data the UI reads from. It is only
// touched while the coordinator's lock is held.
type mirror struct {
	equipment   []model.Equipment
	inspectors  []model.Inspector
	inspections []model.Inspection
}

func (m *mirror) inspectionIndex(id model.ID) int {
	return slices.IndexFunc(m.inspections, func(i model.Inspection) bool { return i.ID == id })
}

func (m *mirror) inspection(id model.ID) (model.Inspection, bool) {
	if i := m.inspectionIndex(id); i >= 0 {
		return m.inspections[i].Clone(), true
	}
	return model.Inspection{}, false
}

func (m *mirror) upsertInspection(insp model.Inspection) {
	if i := m.inspectionIndex(insp.ID); i >= 0 {
		m.inspections[i] = insp.Clone()
		return
	}
	m.inspections = append(m.inspections, insp.Clone())
}

func (m *mirror) removeInspection(id model.ID) {
	m.inspections = slices.DeleteFunc(m.inspections, func(i model.Inspection) bool { return i.ID == id })
}

func (m *mirror) removeByEquipment(id model.ID) int {
	before := len(m.inspections)
	m.inspections = slices.DeleteFunc(m.inspections, func(i model.Inspection) bool { return i.ManholeID == id })
	return before - len(m.inspections)
}

func (m *mirror) cloneInspections(keep func(model.Inspection) bool) []model.Inspection {
	out := make([]model.Inspection, 0, len(m.inspections))
	for _, insp := range m.inspections {
		if keep == nil || keep(insp) {
			out = append(out, insp.Clone())
		}
	}
	return out
}

func (m *mirror) cloneEquipment() []model.Equipment {
	out := make([]model.Equipment, len(m.equipment))
	for i, e := range m.equipment {
		out[i] = e.Clone()
	}
	return out
}

func (m *mirror) equipmentByID(id model.ID) (model.Equipment, bool) {
	if i := model.FindEquipment(m.equipment, id); i >= 0 {
		return m.equipment[i].Clone(), true
	}
	return model.Equipment{}, false
}
