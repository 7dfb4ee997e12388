package model

import (
	"errors"
	"slices"
	"strings"
)

// ItemType is the kind of input an inspection item collects.
type ItemType string

const (
	ItemCheckbox  ItemType = "checkbox"
	ItemSelection ItemType = "selection"
	ItemNumeric   ItemType = "numeric"
	ItemText      ItemType = "text"
)

const (
	DefaultDecimalPlaces = 2
	DefaultTextMaxLength = 500
)

// NumericSettings configure a numeric item.
type NumericSettings struct {
	DecimalPlaces int           `json:"decimalPlaces"`
	Unit          string        `json:"unit,omitempty"`
	WarningRange  *WarningRange `json:"warningRange,omitempty"`
}

// InspectionItemDefinition describes one custom check on an equipment's
// inspection form. Order is 1-based and dense within an equipment.
type InspectionItemDefinition struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Type             ItemType         `json:"type"`
	Required         bool             `json:"required"`
	Order            int              `json:"order"`
	Category         string           `json:"category,omitempty"`
	SelectionOptions []string         `json:"selectionOptions,omitempty"`
	NumericSettings  *NumericSettings `json:"numericSettings,omitempty"`
	MaxLength        int              `json:"maxLength,omitempty"`
}

var (
	errItemName    = errors.New("item name is required")
	errItemType    = errors.New("item type is invalid")
	errItemOptions = errors.New("selection item needs at least one option")
)

// Normalize trims input and applies per-type defaults, then validates.
func (d *InspectionItemDefinition) Normalize() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Category = strings.TrimSpace(d.Category)
	if d.Name == "" {
		return errItemName
	}
	switch d.Type {
	case ItemCheckbox:
	case ItemSelection:
		opts := d.SelectionOptions[:0:0]
		for _, o := range d.SelectionOptions {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, o)
			}
		}
		if len(opts) == 0 {
			return errItemOptions
		}
		d.SelectionOptions = opts
	case ItemNumeric:
		if d.NumericSettings == nil {
			d.NumericSettings = &NumericSettings{DecimalPlaces: DefaultDecimalPlaces}
		}
		if d.NumericSettings.DecimalPlaces < 0 {
			d.NumericSettings.DecimalPlaces = DefaultDecimalPlaces
		}
	case ItemText:
		if d.MaxLength <= 0 {
			d.MaxLength = DefaultTextMaxLength
		}
	default:
		return errItemType
	}
	return nil
}

func (d InspectionItemDefinition) Clone() InspectionItemDefinition {
	out := d
	out.SelectionOptions = slices.Clone(d.SelectionOptions)
	if d.NumericSettings != nil {
		ns := *d.NumericSettings
		if ns.WarningRange != nil {
			r := *ns.WarningRange
			ns.WarningRange = &r
		}
		out.NumericSettings = &ns
	}
	return out
}

// DefaultInspectionItems are shown for equipment without its own items.
func DefaultInspectionItems() []InspectionItemDefinition {
	return []InspectionItemDefinition{
		{ID: "operation_status", Name: "運転状態(始動、異音など)", Type: ItemCheckbox, Required: true, Order: 1, Category: "運転状況"},
		{ID: "water_level_device", Name: "水位計、フリクトの設置状態", Type: ItemCheckbox, Required: true, Order: 2, Category: "設備状況"},
	}
}

// SortItems orders items by Order, stable for equal values.
func SortItems(items []InspectionItemDefinition) {
	slices.SortStableFunc(items, func(a, b InspectionItemDefinition) int { return a.Order - b.Order })
}

// Renumber assigns dense 1-based orders following the slice order.
func Renumber(items []InspectionItemDefinition) {
	for i := range items {
		items[i].Order = i + 1
	}
}
