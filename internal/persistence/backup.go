package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/db"
	"manhole-inspection/internal/model"
	"manhole-inspection/internal/output"
)

const (
	BackupVersion = "1.0"

	SourceDatabase = "database+json"
	SourceLocal    = "localstorage"

	dataTypeInspections = "inspections"
)

// BackupCounts mirrors the sizes of BackupData.
type BackupCounts struct {
	Manholes    int `json:"manholes"`
	Inspectors  int `json:"inspectors"`
	Inspections int `json:"inspections"`
	Photos      int `json:"photos"`
}

type BackupData struct {
	Manholes    []model.Equipment  `json:"manholes"`
	Inspectors  []model.Inspector  `json:"inspectors"`
	Inspections []model.Inspection `json:"inspections"`
	Photos      []model.Photo      `json:"photos"`
}

// Backup is the full export document.
type Backup struct {
	Version      string       `json:"version"`
	ExportDate   time.Time    `json:"exportDate"`
	DataSource   string       `json:"dataSource"`
	TotalRecords BackupCounts `json:"totalRecords"`
	Data         BackupData   `json:"data"`
}

// AutoBackup is the periodic snapshot kept in the blob store.
type AutoBackup struct {
	Version    string     `json:"version"`
	AutoBackup bool       `json:"autoBackup"`
	Timestamp  time.Time  `json:"timestamp"`
	Data       BackupData `json:"data"`
}

// InspectionExport is the inspections-only export document.
type InspectionExport struct {
	Version      string             `json:"version"`
	ExportDate   time.Time          `json:"exportDate"`
	DataType     string             `json:"dataType"`
	TotalRecords int                `json:"totalRecords"`
	Inspections  []model.Inspection `json:"inspections"`
}

// ImportResult counts what ImportBackup did.
type ImportResult struct {
	Manholes    int `json:"manholes"`
	Inspectors  int `json:"inspectors"`
	Inspections int `json:"inspections"`
	Updated     int `json:"updated"`
	Photos      int `json:"photos"`
	Skipped     int `json:"skipped"`
}

// MergeMode decides what happens to an incoming inspection whose id exists.
type MergeMode string

const (
	MergeSkip      MergeMode = "skip"
	MergeUpdate    MergeMode = "update"
	MergeDuplicate MergeMode = "duplicate"
)

// MergeResult counts what a merge or inspections import did.
type MergeResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// ---- export ----

func (c *Coordinator) backupData(ctx context.Context) (BackupData, error) {
	inspections, err := c.store.Inspections(ctx)
	if err != nil {
		return BackupData{}, err
	}
	photos := []model.Photo{}
	if c.records.Ready() {
		if photos, err = c.store.Photos(ctx); err != nil {
			return BackupData{}, err
		}
	}
	inspectors := c.m.inspectors
	if inspectors == nil {
		inspectors = []model.Inspector{}
	}
	return BackupData{
		Manholes:    c.m.cloneEquipment(),
		Inspectors:  append([]model.Inspector{}, inspectors...),
		Inspections: inspections,
		Photos:      photos,
	}, nil
}

// ExportBackup assembles the full backup document. Photos are included
// separately when the record store is in use; on the fallback store they
// travel inline with their inspections.
func (c *Coordinator) ExportBackup(ctx context.Context) (Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.backupData(ctx)
	if err != nil {
		return Backup{}, err
	}
	return Backup{
		Version:    BackupVersion,
		ExportDate: c.now().UTC(),
		DataSource: c.DataSource(),
		TotalRecords: BackupCounts{
			Manholes:    len(data.Manholes),
			Inspectors:  len(data.Inspectors),
			Inspections: len(data.Inspections),
			Photos:      len(data.Photos),
		},
		Data: data,
	}, nil
}

// ExportBackupFile writes the full backup as a timestamped artifact.
func (c *Coordinator) ExportBackupFile(ctx context.Context) (string, error) {
	b, err := c.ExportBackup(ctx)
	if err != nil {
		return "", err
	}
	return c.save(output.PrefixBackup, b.ExportDate, b)
}

// ExportInspections assembles the inspections-only document.
func (c *Coordinator) ExportInspections(ctx context.Context) (InspectionExport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := c.store.Inspections(ctx)
	if err != nil {
		return InspectionExport{}, err
	}
	return InspectionExport{
		Version:      BackupVersion,
		ExportDate:   c.now().UTC(),
		DataType:     dataTypeInspections,
		TotalRecords: len(list),
		Inspections:  list,
	}, nil
}

func (c *Coordinator) ExportInspectionsFile(ctx context.Context) (string, error) {
	ex, err := c.ExportInspections(ctx)
	if err != nil {
		return "", err
	}
	return c.save(output.PrefixInspections, ex.ExportDate, ex)
}

func (c *Coordinator) save(prefix string, at time.Time, v any) (string, error) {
	s := c.blobs.Saver()
	if s == nil {
		return "", fmt.Errorf("export %s: no saver configured", prefix)
	}
	return output.WriteJSON(s, prefix, at, v)
}

// WriteAutoBackup stores a snapshot of all data under the auto-backup key.
func (c *Coordinator) WriteAutoBackup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.backupData(ctx)
	if err != nil {
		return err
	}
	snap := AutoBackup{Version: BackupVersion, AutoBackup: true, Timestamp: c.now().UTC(), Data: data}
	return c.blobs.WriteDocument(ctx, blob.KeyAutoBackup, snap)
}

// ---- import ----

type rawBackup struct {
	Version *string  `json:"version"`
	Data    *rawData `json:"data"`
}

type rawData struct {
	Manholes    json.RawMessage   `json:"manholes"`
	Inspectors  json.RawMessage   `json:"inspectors"`
	Inspections []json.RawMessage `json:"inspections"`
	Photos      []json.RawMessage `json:"photos"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// ImportBackup restores a full backup document. The document is validated
// before anything changes: it must carry version and data, and the master
// data arrays must decode. Master data present in the document replaces
// the current collections; inspections and photos are upserted one by one,
// and records that fail are skipped and logged.
func (c *Coordinator) ImportBackup(ctx context.Context, doc []byte) (ImportResult, error) {
	var raw rawBackup
	if err := json.Unmarshal(doc, &raw); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if raw.Version == nil || raw.Data == nil {
		return ImportResult{}, fmt.Errorf("%w: version and data are required", ErrInvalidFormat)
	}
	var (
		equipment  []model.Equipment
		inspectors []model.Inspector
	)
	if present(raw.Data.Manholes) {
		if err := json.Unmarshal(raw.Data.Manholes, &equipment); err != nil {
			return ImportResult{}, fmt.Errorf("%w: manholes: %w", ErrInvalidFormat, err)
		}
	}
	if present(raw.Data.Inspectors) {
		if err := json.Unmarshal(raw.Data.Inspectors, &inspectors); err != nil {
			return ImportResult{}, fmt.Errorf("%w: inspectors: %w", ErrInvalidFormat, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var res ImportResult
	if equipment != nil {
		if err := c.replaceEquipment(ctx, equipment); err != nil {
			return res, err
		}
		res.Manholes = len(equipment)
	}
	if inspectors != nil {
		if err := c.commitInspectors(ctx, inspectors); err != nil {
			return res, err
		}
		res.Inspectors = len(inspectors)
	}

	remap := c.remapper(raw.Data.Inspections, nil)
	for _, item := range raw.Data.Inspections {
		var insp model.Inspection
		if err := json.Unmarshal(remap.Inspection(item), &insp); err != nil {
			c.log.Warn("skipping undecodable inspection", zap.Error(err))
			res.Skipped++
			continue
		}
		if insp.ID == 0 {
			insp.ID = c.newInspectionID()
		}
		created, err := c.upsertInspection(ctx, insp)
		switch {
		case err != nil:
			c.log.Warn("skipping inspection", zap.Int64("id", int64(insp.ID)), zap.Error(err))
			res.Skipped++
		case created:
			res.Inspections++
		default:
			res.Updated++
		}
	}

	for _, item := range raw.Data.Photos {
		var p model.Photo
		if err := json.Unmarshal(remap.Photo(item), &p); err != nil {
			c.log.Warn("skipping undecodable photo", zap.Error(err))
			res.Skipped++
			continue
		}
		if p.ID == "" {
			p.ID = NewPhotoID()
		}
		if err := c.upsertPhoto(ctx, p); err != nil {
			c.log.Warn("skipping photo", zap.String("id", p.ID), zap.Error(err))
			res.Skipped++
			continue
		}
		res.Photos++
	}

	c.log.Info("backup imported",
		zap.Int("manholes", res.Manholes), zap.Int("inspectors", res.Inspectors),
		zap.Int("inspections", res.Inspections), zap.Int("updated", res.Updated),
		zap.Int("photos", res.Photos), zap.Int("skipped", res.Skipped),
		zap.Int("renumbered", remap.Len()))
	return res, nil
}

// upsertInspection adds insp, or replaces the stored record when the id is
// taken. Inline photos are attached to the inspection either way.
func (c *Coordinator) upsertInspection(ctx context.Context, insp model.Inspection) (created bool, err error) {
	base, inline := insp.WithoutPhotos()
	for i := range inline {
		if inline[i].ID == "" {
			inline[i].ID = NewPhotoID()
		}
	}
	_, err = c.store.AddInspection(ctx, base, inline)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, db.ErrDuplicateKey) {
		return false, err
	}
	stored, err := c.store.UpdateInspection(ctx, base)
	if err != nil {
		return false, err
	}
	c.attachPhotos(ctx, stored, inline)
	return false, nil
}

// attachPhotos upserts photos as records of insp. A photo that cannot be
// stored is logged; the inspection itself is already saved.
func (c *Coordinator) attachPhotos(ctx context.Context, insp model.Inspection, photos []model.Photo) {
	for _, p := range photos {
		if p.ID == "" {
			p.ID = NewPhotoID()
		}
		p.InspectionID = insp.ID
		p.ManholeID = insp.ManholeID
		if err := c.upsertPhoto(ctx, p); err != nil {
			c.log.Warn("inline photo not stored", zap.String("id", p.ID), zap.Error(err))
		}
	}
}

func (c *Coordinator) upsertPhoto(ctx context.Context, p model.Photo) error {
	_, err := c.store.AddPhoto(ctx, p)
	if errors.Is(err, db.ErrDuplicateKey) {
		_, err = c.store.UpdatePhoto(ctx, p)
	}
	return err
}

// remapper returns an IDRemap for items whose fresh ids avoid the mirror,
// every integer id in items, and anything taken reports.
func (c *Coordinator) remapper(items []json.RawMessage, taken func(model.ID) bool) *model.IDRemap {
	inDoc := make(map[model.ID]bool, len(items))
	for _, item := range items {
		var head struct {
			ID model.ID `json:"id"`
		}
		if json.Unmarshal(item, &head) == nil && head.ID != 0 {
			inDoc[head.ID] = true
		}
	}
	return model.NewIDRemap(func() model.ID {
		return freshID(c.ids, func(id model.ID) bool {
			return inDoc[id] || c.m.inspectionIndex(id) >= 0 || (taken != nil && taken(id))
		})
	})
}

// rawInspections accepts either the inspections-only document or a full
// backup and returns its inspection entries.
func rawInspections(doc []byte) (string, []json.RawMessage, error) {
	var raw struct {
		DataType    string             `json:"dataType"`
		Inspections *[]json.RawMessage `json:"inspections"`
		Data        *struct {
			Inspections *[]json.RawMessage `json:"inspections"`
		} `json:"data"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	switch {
	case raw.Inspections != nil:
		return raw.DataType, *raw.Inspections, nil
	case raw.Data != nil && raw.Data.Inspections != nil:
		return raw.DataType, *raw.Data.Inspections, nil
	}
	return "", nil, fmt.Errorf("%w: no inspections array", ErrInvalidFormat)
}

// ImportInspections upserts the inspections of an inspections-only export.
func (c *Coordinator) ImportInspections(ctx context.Context, doc []byte) (MergeResult, error) {
	dataType, items, err := rawInspections(doc)
	if err != nil {
		return MergeResult{}, err
	}
	if dataType != "" && dataType != dataTypeInspections {
		return MergeResult{}, fmt.Errorf("%w: dataType %q", ErrInvalidFormat, dataType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	remap := c.remapper(items, nil)
	res := MergeResult{Total: len(items)}
	for _, item := range items {
		var insp model.Inspection
		if err := json.Unmarshal(remap.Inspection(item), &insp); err != nil {
			c.log.Warn("skipping undecodable inspection", zap.Error(err))
			res.Skipped++
			continue
		}
		if insp.ID == 0 {
			insp.ID = c.newInspectionID()
		}
		created, err := c.upsertInspection(ctx, insp)
		switch {
		case err != nil:
			c.log.Warn("skipping inspection", zap.Int64("id", int64(insp.ID)), zap.Error(err))
			res.Skipped++
		case created:
			res.Imported++
		default:
			res.Updated++
		}
	}
	return res, nil
}

// MergeInspectionsFromBackup folds the inspections of a backup into the
// current data. Incoming records with a new id are added. For ids that
// already exist, mode decides: skip leaves the current record, update
// replaces it, duplicate adds a copy under a new id stamped importedAt.
func (c *Coordinator) MergeInspectionsFromBackup(ctx context.Context, doc []byte, mode MergeMode) (MergeResult, error) {
	switch mode {
	case MergeSkip, MergeUpdate, MergeDuplicate:
	default:
		return MergeResult{}, fmt.Errorf("%w: merge mode %q", ErrInvalidInput, string(mode))
	}
	_, items, err := rawInspections(doc)
	if err != nil {
		return MergeResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.Inspections(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	existing := make(map[model.ID]bool, len(current))
	for _, insp := range current {
		existing[insp.ID] = true
	}
	taken := func(id model.ID) bool { return existing[id] || c.m.inspectionIndex(id) >= 0 }
	remap := c.remapper(items, taken)

	res := MergeResult{Total: len(items)}
	for _, item := range items {
		var insp model.Inspection
		if err := json.Unmarshal(remap.Inspection(item), &insp); err != nil {
			c.log.Warn("skipping undecodable inspection", zap.Error(err))
			res.Skipped++
			continue
		}
		base, inline := insp.WithoutPhotos()

		switch {
		case insp.ID != 0 && existing[insp.ID] && mode == MergeSkip:
			res.Skipped++
			continue
		case insp.ID != 0 && existing[insp.ID] && mode == MergeUpdate:
			stored, err := c.store.UpdateInspection(ctx, base)
			if err != nil {
				c.log.Warn("merge update failed", zap.Int64("id", int64(insp.ID)), zap.Error(err))
				res.Skipped++
				continue
			}
			c.attachPhotos(ctx, stored, inline)
			res.Updated++
			continue
		case insp.ID != 0 && existing[insp.ID]:
			base.ID = freshID(c.ids, taken)
			base.ImportedAt = c.now().UTC()
		case insp.ID == 0:
			base.ID = freshID(c.ids, taken)
		}
		for i := range inline {
			inline[i].ID = NewPhotoID()
		}

		if _, err := c.store.AddInspection(ctx, base, inline); err != nil {
			c.log.Warn("merge add failed", zap.Int64("id", int64(base.ID)), zap.Error(err))
			res.Skipped++
			continue
		}
		existing[base.ID] = true
		res.Imported++
	}
	c.log.Info("inspections merged", zap.String("mode", string(mode)),
		zap.Int("imported", res.Imported), zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped), zap.Int("total", res.Total))
	return res, nil
}
