package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/db"
	"manhole-inspection/internal/legacy"
	"manhole-inspection/internal/model"
	"manhole-inspection/internal/output"
)

var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type seqIDs struct {
	mu   sync.Mutex
	next int64
}

func (s *seqIDs) NextID() model.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return model.ID(1000 + s.next)
}

type env struct {
	dir     string
	records *db.RecordStore
	blobs   *blob.Store
	c       *Coordinator
	logs    *observer.ObservedLogs
}

// newEnv builds a coordinator over dir. dbPath overrides the database
// location when non-empty.
func newEnv(t *testing.T, dir, dbPath string) env {
	t.Helper()
	if dbPath == "" {
		dbPath = filepath.Join(dir, "inspections.sqlite")
	}
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	records := db.NewRecordStore(dbPath, log, db.WithClock(clock))
	blobs := blob.NewStore(blob.NewDirBackend(filepath.Join(dir, "blobs")), output.DirSaver{Dir: filepath.Join(dir, "exports")}, log)
	blobs.SetClock(clock)
	c := New(records, blobs, log, WithClock(clock), WithIDGenerator(&seqIDs{}))
	t.Cleanup(func() { _ = c.Close() })
	return env{dir: dir, records: records, blobs: blobs, c: c, logs: logs}
}

func loaded(t *testing.T) env {
	t.Helper()
	e := newEnv(t, t.TempDir(), "")
	require.NoError(t, e.c.LoadAll(context.Background()))
	return e
}

func byID(list []model.Inspection) []model.Inspection {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// assertMirrorMatchesStore checks that the mirror equals a fresh read of
// the record store.
func assertMirrorMatchesStore(t *testing.T, e env) {
	t.Helper()
	stored, err := e.records.AllInspections(context.Background())
	require.NoError(t, err)
	mirror := e.c.Inspections()
	require.Len(t, mirror, len(stored))
	a, _ := json.Marshal(byID(stored))
	b, _ := json.Marshal(byID(mirror))
	assert.JSONEq(t, string(a), string(b))
}

func TestLoadAllSeedsDefaults(t *testing.T) {
	e := loaded(t)
	eq := e.c.Equipment()
	require.Len(t, eq, 2)
	assert.Equal(t, "マンホール1", eq[0].Name)
	assert.Empty(t, e.c.Inspections())
	assert.Equal(t, SourceDatabase, e.c.DataSource())

	saved := blob.Load[model.Equipment](context.Background(), e.blobs, blob.KeyManholes)
	assert.Len(t, saved, 2)
}

func TestLoadAllMigratesEquipment(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir, "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blobs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blobs", "manholes.json"),
		[]byte(`[{"id":7,"name":"old pump","ratedCurrent1":15,"ratedCurrent2":20}]`), 0o644))

	require.NoError(t, e.c.LoadAll(context.Background()))
	eq, ok := e.c.EquipmentByID(7)
	require.True(t, ok)
	assert.Equal(t, model.WarningRange{Min: 13.5, Max: 16.5}, *eq.CurrentWarningRange1)
	assert.Equal(t, model.WarningRange{Min: 18, Max: 22}, *eq.CurrentWarningRange2)
	assert.NotNil(t, eq.InspectionItems)

	saved := blob.Load[model.Equipment](context.Background(), e.blobs, blob.KeyManholes)
	require.Len(t, saved, 1)
	assert.NotNil(t, saved[0].CurrentWarningRange1, "migration is written back")
}

func TestAddInspectionStoresPhotosSeparately(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()

	var in model.Inspection
	require.NoError(t, json.Unmarshal([]byte(`{
		"manholeId": 1, "inspectionDate": "2024-05-01", "inspector": "A",
		"no1Current": "16.0",
		"photos": [{"data": "p1"}, {"data": "p2"}]}`), &in))

	got, err := e.c.AddInspection(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, got.SyncStatus)
	assert.True(t, got.Timestamp.Equal(testNow))
	assert.Nil(t, got.Photos)

	photos, err := e.c.PhotosByInspection(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	for _, p := range photos {
		assert.Equal(t, got.ID, p.InspectionID)
		assert.Equal(t, model.ID(1), p.ManholeID)
		assert.Contains(t, p.ID, "photo_")
	}
	assertMirrorMatchesStore(t, e)
}

func TestAddInspectionNeedsEquipment(t *testing.T) {
	e := loaded(t)
	_, err := e.c.AddInspection(context.Background(), model.Inspection{ManholeID: 99, InspectionDate: "2024-05-01"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateInspection(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	got, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-05-01", Inspector: "A"})
	require.NoError(t, err)
	require.NoError(t, e.records.MarkInspectionSynced(ctx, got.ID))

	upd, err := e.c.UpdateInspection(ctx, got.ID, func(i *model.Inspection) {
		i.Memo = "checked again"
		i.ID = 5
	})
	require.NoError(t, err)
	assert.Equal(t, got.ID, upd.ID)
	assert.Equal(t, model.SyncPending, upd.SyncStatus)
	assert.True(t, upd.UpdatedAt.Equal(testNow))
	assertMirrorMatchesStore(t, e)

	_, err = e.c.UpdateInspection(ctx, 424242, func(*model.Inspection) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteInspectionCascadesPhotos(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	got, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-05-01",
		Photos: []model.Photo{{Data: "x"}}})
	require.NoError(t, err)

	require.NoError(t, e.c.DeleteInspection(ctx, got.ID))
	photos, err := e.records.AllPhotos(ctx)
	require.NoError(t, err)
	assert.Empty(t, photos)
	assertMirrorMatchesStore(t, e)
	assert.ErrorIs(t, e.c.DeleteInspection(ctx, got.ID), ErrNotFound)
}

func TestDeleteEquipmentCascades(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	for _, m := range []model.ID{1, 1, 2} {
		_, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: m, InspectionDate: "2024-05-01",
			Photos: []model.Photo{{Data: "x"}}})
		require.NoError(t, err)
	}

	n, err := e.c.DeleteEquipment(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := e.c.EquipmentByID(1)
	assert.False(t, ok)
	for _, insp := range e.c.Inspections() {
		assert.NotEqual(t, model.ID(1), insp.ManholeID)
	}
	photos, err := e.records.PhotosByIndex(ctx, "manholeId", model.ID(1))
	require.NoError(t, err)
	assert.Empty(t, photos)
	left, err := e.records.AllPhotos(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 1)
	assertMirrorMatchesStore(t, e)

	_, err = e.c.DeleteEquipment(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilteredInspections(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	dates := map[model.ID]string{1: "2024-06-10", 2: "2024-05-01", 3: "2024-02-01", 4: "2023-01-01"}
	for id, d := range dates {
		_, err := e.c.AddInspection(ctx, model.Inspection{ID: id, ManholeID: 1, InspectionDate: d})
		require.NoError(t, err)
	}
	_, err := e.c.AddInspection(ctx, model.Inspection{ID: 5, ManholeID: 2, InspectionDate: "2024-06-14"})
	require.NoError(t, err)

	ids := func(list []model.Inspection) []model.ID {
		out := make([]model.ID, len(list))
		for i, x := range list {
			out[i] = x.ID
		}
		return out
	}
	eq1 := model.ID(1)

	list, err := e.c.FilteredInspections(ctx, &eq1, Period1Month)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{1}, ids(list))

	list, err = e.c.FilteredInspections(ctx, &eq1, Period6Months)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{1, 2, 3}, ids(list))

	list, err = e.c.FilteredInspections(ctx, &eq1, PeriodAll)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{1, 2, 3, 4}, ids(list))

	list, err = e.c.FilteredInspections(ctx, nil, Period3Months)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{5, 1, 2}, ids(list))

	_, err = e.c.FilteredInspections(ctx, nil, "2weeks")
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	last, ok, err := e.c.LastInspection(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ID(1), last.ID)
}

func TestMonthlyInspections(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	for id, d := range map[model.ID]string{1: "2024-05-01", 2: "2024-05-31", 3: "2024-06-01", 4: "2023-05-10"} {
		_, err := e.c.AddInspection(ctx, model.Inspection{ID: id, ManholeID: 1, InspectionDate: d})
		require.NoError(t, err)
	}
	list, err := e.c.MonthlyInspections(ctx, 2024, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.ID(2), list[0].ID)

	_, err = e.c.MonthlyInspections(ctx, 2024, 13)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestInspectorNamesAreUnique(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	a, err := e.c.AddInspector(ctx, "Tanaka")
	require.NoError(t, err)
	_, err = e.c.AddInspector(ctx, "Tanaka")
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Len(t, e.c.Inspectors(), 1)

	b, err := e.c.AddInspector(ctx, "Sato")
	require.NoError(t, err)
	_, err = e.c.UpdateInspector(ctx, b.ID, "Tanaka")
	assert.ErrorIs(t, err, ErrDuplicateName)
	renamed, err := e.c.UpdateInspector(ctx, a.ID, "Tanaka Taro")
	require.NoError(t, err)
	assert.Equal(t, "Tanaka Taro", renamed.Name)

	require.NoError(t, e.c.DeleteInspector(ctx, b.ID))
	assert.ErrorIs(t, e.c.DeleteInspector(ctx, b.ID), ErrNotFound)
	saved := blob.Load[model.Inspector](ctx, e.blobs, blob.KeyInspectors)
	require.Len(t, saved, 1)
	assert.Equal(t, "Tanaka Taro", saved[0].Name)
}

func TestInspectorNamesCompareExactly(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	_, err := e.c.AddInspector(ctx, "Tanaka")
	require.NoError(t, err)

	padded, err := e.c.AddInspector(ctx, " Tanaka")
	require.NoError(t, err)
	assert.Equal(t, " Tanaka", padded.Name)
	_, err = e.c.AddInspector(ctx, "tanaka")
	require.NoError(t, err)
	assert.Len(t, e.c.Inspectors(), 3)

	_, err = e.c.AddInspector(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEquipmentCRUD(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()

	_, err := e.c.AddEquipment(ctx, model.Equipment{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	added, err := e.c.AddEquipment(ctx, model.Equipment{Name: "M3", RatedCurrent1: 10, RatedCurrent2: 10})
	require.NoError(t, err)
	assert.NotZero(t, added.ID)
	assert.Equal(t, model.WarningRange{Min: 9, Max: 11}, *added.CurrentWarningRange1)

	upd, err := e.c.UpdateEquipment(ctx, added.ID, func(eq *model.Equipment) { eq.Name = "M3 renamed" })
	require.NoError(t, err)
	assert.Equal(t, "M3 renamed", upd.Name)

	_, err = e.c.UpdateEquipment(ctx, 999, func(*model.Equipment) {})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, blob.Load[model.Equipment](ctx, e.blobs, blob.KeyManholes), 3)

	fc := e.c.EquipmentGeoJSON()
	assert.Len(t, fc.Features, 2, "new equipment has no location")
}

func TestInspectionItems(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()

	items, err := e.c.InspectionItems(1)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultInspectionItems(), items)

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		it, err := e.c.AddInspectionItem(ctx, 1, model.InspectionItemDefinition{Name: name, Type: model.ItemCheckbox})
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}
	_, err = e.c.AddInspectionItem(ctx, 1, model.InspectionItemDefinition{Name: "bad", Type: model.ItemSelection})
	assert.ErrorIs(t, err, ErrInvalidInput)

	reordered, err := e.c.ReorderInspectionItems(ctx, 1, []string{ids[2], ids[0]})
	require.NoError(t, err)
	require.Len(t, reordered, 3)
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, []string{reordered[0].ID, reordered[1].ID, reordered[2].ID})
	for i, it := range reordered {
		assert.Equal(t, i+1, it.Order)
	}

	_, err = e.c.ReorderInspectionItems(ctx, 1, []string{ids[0], ids[0]})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, e.c.DeleteInspectionItem(ctx, 1, ids[2]))
	items, err = e.c.InspectionItems(1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Order)
	assert.Equal(t, 2, items[1].Order)

	upd := items[1]
	upd.Name = "b2"
	_, err = e.c.UpdateInspectionItem(ctx, 1, upd)
	require.NoError(t, err)

	n, err := e.c.CopyInspectionItems(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	copied, err := e.c.InspectionItems(2)
	require.NoError(t, err)
	require.Len(t, copied, 2)
	assert.NotEqual(t, items[0].ID, copied[0].ID)
	assert.Equal(t, "b2", copied[1].Name)
}

func TestBackupRoundTrip(t *testing.T) {
	src := loaded(t)
	ctx := context.Background()
	_, err := src.c.AddInspector(ctx, "A")
	require.NoError(t, err)
	_, err = src.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-05-01", Inspector: "A",
		Photos: []model.Photo{{Data: "img"}}})
	require.NoError(t, err)

	backup, err := src.c.ExportBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackupVersion, backup.Version)
	assert.Equal(t, SourceDatabase, backup.DataSource)
	assert.Equal(t, BackupCounts{Manholes: 2, Inspectors: 1, Inspections: 1, Photos: 1}, backup.TotalRecords)
	doc, err := json.Marshal(backup)
	require.NoError(t, err)

	dst := loaded(t)
	res, err := dst.c.ImportBackup(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Manholes: 2, Inspectors: 1, Inspections: 1, Photos: 1}, res)

	again, err := dst.c.ExportBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, backup.TotalRecords, again.TotalRecords)
	a, _ := json.Marshal(backup.Data)
	b, _ := json.Marshal(again.Data)
	assert.JSONEq(t, string(a), string(b))

	res, err = dst.c.ImportBackup(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated, "reimport updates by id")
	assertMirrorMatchesStore(t, dst)
}

func TestImportBackupRejectsInvalidDocuments(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	before := e.c.Equipment()

	for _, doc := range []string{
		`not json`,
		`{"version":"1.0"}`,
		`{"data":{"manholes":[]}}`,
		`{"version":"1.0","data":null}`,
		`{"version":"1.0","data":{"manholes":{"id":1}}}`,
	} {
		_, err := e.c.ImportBackup(ctx, []byte(doc))
		assert.ErrorIs(t, err, ErrInvalidFormat, doc)
	}
	assert.Equal(t, before, e.c.Equipment())
}

func TestImportBackupSkipsBadRecords(t *testing.T) {
	e := loaded(t)
	doc := `{"version":"1.0","data":{
		"inspections":[{"id":1,"manholeId":1,"inspectionDate":"2024-05-01"},{"id":"x"}],
		"photos":[{"id":"p1","inspectionId":1,"data":"d"},{"id":5}]}}`
	res, err := e.c.ImportBackup(context.Background(), []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inspections)
	assert.Equal(t, 1, res.Photos)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, e.c.Equipment(), 2, "master data untouched when absent")
}

func mergeDoc(t *testing.T, list ...model.Inspection) []byte {
	t.Helper()
	b, err := json.Marshal(InspectionExport{Version: BackupVersion, DataType: "inspections", Inspections: list})
	require.NoError(t, err)
	return b
}

func seedMerge(t *testing.T) env {
	t.Helper()
	e := loaded(t)
	for _, id := range []model.ID{1, 2} {
		_, err := e.c.AddInspection(context.Background(), model.Inspection{ID: id, ManholeID: 1, InspectionDate: "2024-05-01", Memo: "local"})
		require.NoError(t, err)
	}
	return e
}

func TestMergeModes(t *testing.T) {
	incoming := []model.Inspection{
		{ID: 2, ManholeID: 1, InspectionDate: "2024-05-02", Memo: "remote"},
		{ID: 3, ManholeID: 1, InspectionDate: "2024-05-03", Memo: "remote"},
	}
	ctx := context.Background()

	t.Run("skip", func(t *testing.T) {
		e := seedMerge(t)
		res, err := e.c.MergeInspectionsFromBackup(ctx, mergeDoc(t, incoming...), MergeSkip)
		require.NoError(t, err)
		assert.Equal(t, MergeResult{Imported: 1, Skipped: 1, Total: 2}, res)
		got, _ := e.c.Inspection(2)
		assert.Equal(t, "local", got.Memo)
	})

	t.Run("update", func(t *testing.T) {
		e := seedMerge(t)
		res, err := e.c.MergeInspectionsFromBackup(ctx, mergeDoc(t, incoming...), MergeUpdate)
		require.NoError(t, err)
		assert.Equal(t, MergeResult{Imported: 1, Updated: 1, Total: 2}, res)
		got, _ := e.c.Inspection(2)
		assert.Equal(t, "remote", got.Memo)
		assertMirrorMatchesStore(t, e)
	})

	t.Run("duplicate", func(t *testing.T) {
		e := seedMerge(t)
		res, err := e.c.MergeInspectionsFromBackup(ctx, mergeDoc(t, incoming...), MergeDuplicate)
		require.NoError(t, err)
		assert.Equal(t, MergeResult{Imported: 2, Total: 2}, res)

		all := e.c.Inspections()
		assert.Len(t, all, 4)
		var dup *model.Inspection
		for i := range all {
			if all[i].Memo == "remote" && all[i].ID != 3 {
				dup = &all[i]
			}
		}
		require.NotNil(t, dup)
		assert.NotEqual(t, model.ID(2), dup.ID)
		assert.True(t, dup.ImportedAt.Equal(testNow))
		assertMirrorMatchesStore(t, e)
	})

	t.Run("invalid", func(t *testing.T) {
		e := seedMerge(t)
		_, err := e.c.MergeInspectionsFromBackup(ctx, []byte(`{"version":"1.0"}`), MergeSkip)
		assert.ErrorIs(t, err, ErrInvalidFormat)
		_, err = e.c.MergeInspectionsFromBackup(ctx, mergeDoc(t), "overwrite")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestMergeAcceptsFullBackup(t *testing.T) {
	e := seedMerge(t)
	doc := []byte(`{"version":"1.0","data":{"inspections":[{"id":9,"manholeId":2,"inspectionDate":"2024-05-09"}]}}`)
	res, err := e.c.MergeInspectionsFromBackup(context.Background(), doc, MergeSkip)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Imported: 1, Total: 1}, res)
}

func TestInspectionsExportImport(t *testing.T) {
	src := seedMerge(t)
	ctx := context.Background()
	ex, err := src.c.ExportInspections(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inspections", ex.DataType)
	assert.Equal(t, 2, ex.TotalRecords)
	doc, err := json.Marshal(ex)
	require.NoError(t, err)

	dst := loaded(t)
	res, err := dst.c.ImportInspections(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Imported: 2, Total: 2}, res)
	res, err = dst.c.ImportInspections(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Updated: 2, Total: 2}, res)

	_, err = dst.c.ImportInspections(ctx, []byte(`{"dataType":"manholes","inspections":[]}`))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestExportFiles(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()

	path, err := e.c.ExportBackupFile(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.dir, "exports", output.Filename(output.PrefixBackup, testNow)), path)
	assert.FileExists(t, path)

	path, err = e.c.ExportInspectionsFile(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)

	path, err = e.c.ExportEquipment()
	require.NoError(t, err)
	assert.Equal(t, "manholes_2024-06-15.json", filepath.Base(path))

	path, err = e.c.ExportInspectors()
	require.NoError(t, err)
	assert.Equal(t, "inspectors_2024-06-15.json", filepath.Base(path))
}

func TestMasterDataFiles(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()

	n, err := e.c.LoadEquipmentFile(ctx, []byte(`[{"id":30,"name":"uploaded","ratedCurrent1":5}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	eq := e.c.Equipment()
	require.Len(t, eq, 1)
	assert.NotNil(t, eq[0].CurrentWarningRange1)

	_, err = e.c.LoadEquipmentFile(ctx, []byte(`{"id":1}`))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	n, err = e.c.LoadInspectorsFile(ctx, []byte(`[{"id":"1","name":"A"},{"id":"2","name":"B"}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, e.c.Inspectors(), 2)
}

func TestWriteAutoBackup(t *testing.T) {
	e := seedMerge(t)
	ctx := context.Background()
	require.NoError(t, e.c.WriteAutoBackup(ctx))

	var snap AutoBackup
	found, err := e.blobs.ReadDocument(ctx, blob.KeyAutoBackup, &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, snap.AutoBackup)
	assert.Equal(t, BackupVersion, snap.Version)
	assert.Len(t, snap.Data.Inspections, 2)
}

func TestLoadAllMigratesLegacyDocument(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir, "")
	ctx := context.Background()
	require.NoError(t, e.blobs.WriteDocument(ctx, blob.KeyLegacy, map[string]any{
		"inspections": []map[string]any{
			{"id": 77, "manholeId": 1, "inspectionDate": "2023-03-03", "photos": []map[string]any{{"data": "inline"}}},
		},
		"version": "old",
	}))

	require.NoError(t, e.c.LoadAll(ctx))
	got, ok := e.c.Inspection(77)
	require.True(t, ok)
	assert.Nil(t, got.Photos)
	photos, err := e.c.PhotosByInspection(ctx, 77)
	require.NoError(t, err)
	assert.Len(t, photos, 1)
	assertMirrorMatchesStore(t, e)

	doc, err := legacy.NewDocuments(e.blobs, nil).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Inspections)
}

func TestFallbackWhenRecordStoreCannotOpen(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	e := newEnv(t, dir, filepath.Join(blocker, "db.sqlite"))
	ctx := context.Background()

	require.NoError(t, e.c.LoadAll(ctx))
	assert.Len(t, e.c.Equipment(), 2)
	assert.Equal(t, SourceLocal, e.c.DataSource())

	got, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-06-01",
		Photos: []model.Photo{{Data: "inline"}}})
	require.NoError(t, err)
	require.Len(t, got.Photos, 1)
	assert.Equal(t, got.ID, got.Photos[0].InspectionID)
	assert.GreaterOrEqual(t, e.logs.FilterMessage("record store failed, using fallback store").Len(), 1)

	list, err := e.c.FilteredInspections(ctx, nil, PeriodAll)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	backup, err := e.c.ExportBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, backup.DataSource)
	assert.Empty(t, backup.Data.Photos)
	require.Len(t, backup.Data.Inspections, 1)
	assert.Len(t, backup.Data.Inspections[0].Photos, 1)

	doc, err := legacy.NewDocuments(e.blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Inspections, 1)

	// A later start with a working database picks the record up.
	next := newEnv(t, dir, "")
	require.NoError(t, next.c.LoadAll(ctx))
	moved, ok := next.c.Inspection(got.ID)
	require.True(t, ok)
	assert.Nil(t, moved.Photos)
	photos, err := next.c.PhotosByInspection(ctx, got.ID)
	require.NoError(t, err)
	assert.Len(t, photos, 1)
}

func TestFailoverAfterStoreCloses(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	first, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-06-01"})
	require.NoError(t, err)
	require.NoError(t, e.records.Close())

	second, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-06-02"})
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, second.SyncStatus)

	list, err := e.c.FilteredInspections(ctx, nil, PeriodAll)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, e.c.DeleteInspection(ctx, first.ID))
	assert.Len(t, e.c.Inspections(), 1)
}

func TestNoticeFor(t *testing.T) {
	assert.Equal(t, "An inspector with this name already exists", NoticeFor(ErrDuplicateName).Title)
	assert.Equal(t, "Data could not be saved", NoticeFor(db.ErrStorageUnavailable).Title)
	assert.Equal(t, "The file is not a valid backup", NoticeFor(ErrInvalidFormat).Title)
}

func TestMonotonicIDs(t *testing.T) {
	g := NewMonotonicIDs(clock)
	a, b := g.NextID(), g.NextID()
	assert.Equal(t, model.ID(testNow.UnixMilli()), a)
	assert.Equal(t, a+1, b)
}

func TestImportBackupRenumbersFractionalIDs(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	doc := `{"version":"1.0","data":{
		"inspections":[
			{"id":1700000000001.4321,"manholeId":1,"inspectionDate":"2024-05-01","memo":"merged copy"},
			{"id":"1700000000002.5","manholeId":2,"inspectionDate":"2024-05-02",
			 "photos":[{"id":"inline1","inspectionId":"1700000000002.5","data":"i"}]},
			{"id":1700000000003,"manholeId":1,"inspectionDate":"2024-05-03"}],
		"photos":[{"id":"p1","inspectionId":1700000000001.4321,"manholeId":1,"data":"d"}]}}`

	res, err := e.c.ImportBackup(ctx, []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Inspections: 3, Photos: 1}, res)
	require.Len(t, e.c.Inspections(), 3)
	_, ok := e.c.Inspection(1700000000003)
	assert.True(t, ok, "integer ids are kept")

	byDate := map[string]model.Inspection{}
	for _, insp := range e.c.Inspections() {
		byDate[insp.InspectionDate] = insp
	}
	first := byDate["2024-05-01"]
	assert.Equal(t, "merged copy", first.Memo)
	photos, err := e.c.PhotosByInspection(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "p1", photos[0].ID)

	second := byDate["2024-05-02"]
	assert.NotEqual(t, first.ID, second.ID)
	photos, err = e.c.PhotosByInspection(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "inline1", photos[0].ID)
	assert.Equal(t, model.ID(2), photos[0].ManholeID)
	assertMirrorMatchesStore(t, e)
}

func TestInspectionImportsRenumberFractionalIDs(t *testing.T) {
	ctx := context.Background()
	doc := []byte(`{"version":"1.0","dataType":"inspections","inspections":[
		{"id":1700000000001.4321,"manholeId":1,"inspectionDate":"2024-05-01"}]}`)

	e := loaded(t)
	res, err := e.c.ImportInspections(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Imported: 1, Total: 1}, res)
	require.Len(t, e.c.Inspections(), 1)
	assert.NotZero(t, e.c.Inspections()[0].ID)

	for _, mode := range []MergeMode{MergeSkip, MergeUpdate, MergeDuplicate} {
		e := loaded(t)
		res, err := e.c.MergeInspectionsFromBackup(ctx, doc, mode)
		require.NoError(t, err)
		assert.Equal(t, MergeResult{Imported: 1, Total: 1}, res, string(mode))
		assert.Len(t, e.c.Inspections(), 1, string(mode))
	}
}

func TestLoadAllRenumbersFractionalLegacyIDs(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir, "")
	ctx := context.Background()
	require.NoError(t, e.blobs.WriteDocument(ctx, blob.KeyLegacy, json.RawMessage(`{"inspections":[
		{"id":1700000000001.4321,"manholeId":1,"inspectionDate":"2023-03-03","photos":[{"data":"inline"}]}]}`)))

	require.NoError(t, e.c.LoadAll(ctx))
	list := e.c.Inspections()
	require.Len(t, list, 1)
	assert.NotZero(t, list[0].ID)
	photos, err := e.c.PhotosByInspection(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Len(t, photos, 1)
	assertMirrorMatchesStore(t, e)
}

func TestBackupKeepsUnknownFields(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	doc := `{"version":"1.0","data":{
		"inspections":[{"id":1700000000001,"manholeId":1,"manholeName":"マンホール1","inspectionDate":"2024-06-01",
			"customItems":[],"weather":"晴れ","checks":{"lid":true}}],
		"photos":[{"id":"p1","inspectionId":1700000000001,"manholeId":1,"data":"d","caption":"lid"}]}}`
	_, err := e.c.ImportBackup(ctx, []byte(doc))
	require.NoError(t, err)

	backup, err := e.c.ExportBackup(ctx)
	require.NoError(t, err)
	require.Len(t, backup.Data.Inspections, 1)
	out, err := json.Marshal(backup.Data.Inspections[0])
	require.NoError(t, err)
	var insp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &insp))
	assert.JSONEq(t, `"マンホール1"`, string(insp["manholeName"]))
	assert.JSONEq(t, `[]`, string(insp["customItems"]))
	assert.JSONEq(t, `"晴れ"`, string(insp["weather"]))
	assert.JSONEq(t, `{"lid":true}`, string(insp["checks"]))

	require.Len(t, backup.Data.Photos, 1)
	out, err = json.Marshal(backup.Data.Photos[0])
	require.NoError(t, err)
	var photo map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &photo))
	assert.JSONEq(t, `"lid"`, string(photo["caption"]))
}

func TestAddInspectionNamesEquipment(t *testing.T) {
	e := loaded(t)
	ctx := context.Background()
	got, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-06-01"})
	require.NoError(t, err)
	assert.Equal(t, "マンホール1", got.ManholeName)

	got, err = e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, ManholeName: "as typed", InspectionDate: "2024-06-02"})
	require.NoError(t, err)
	assert.Equal(t, "as typed", got.ManholeName)
}

func TestFailoverWhenWriteIsRejected(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "inspections.sqlite")
	e := newEnv(t, dir, dbPath)
	ctx := context.Background()
	require.NoError(t, e.c.LoadAll(ctx))

	// The store stays open while every photo write fails.
	raw, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	_, err = raw.Exec("DROP TABLE photos")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	got, err := e.c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-06-01",
		Photos: []model.Photo{{Data: "inline"}}})
	require.NoError(t, err)
	assert.True(t, e.records.Ready())
	require.Len(t, got.Photos, 1, "the fallback store keeps photos inline")

	kept, ok := e.c.Inspection(got.ID)
	require.True(t, ok)
	assert.Len(t, kept.Photos, 1)

	_, found, err := e.records.GetInspection(ctx, got.ID)
	require.NoError(t, err)
	assert.False(t, found, "the rejected transaction is rolled back")

	failed := e.logs.FilterMessage("record store failed, using fallback store").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "add inspection", failed[0].ContextMap()["op"])
	assert.Contains(t, failed[0].ContextMap()["error"], db.ErrIO.Error())

	doc, err := legacy.NewDocuments(e.blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Inspections, 1)
	assert.Equal(t, got.ID, doc.Inspections[0].ID)
}

func TestMergeUpdateStoresInlinePhotos(t *testing.T) {
	e := seedMerge(t)
	ctx := context.Background()
	incoming := model.Inspection{ID: 2, ManholeID: 1, InspectionDate: "2024-05-02", Memo: "remote",
		Photos: []model.Photo{{ID: "remote_photo", Data: "img"}, {Data: "unnamed"}}}

	res, err := e.c.MergeInspectionsFromBackup(ctx, mergeDoc(t, incoming), MergeUpdate)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Updated: 1, Total: 1}, res)

	photos, err := e.c.PhotosByInspection(ctx, 2)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	ids := []string{photos[0].ID, photos[1].ID}
	assert.Contains(t, ids, "remote_photo")
	for _, p := range photos {
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, model.ID(1), p.ManholeID)
	}

	_, err = e.c.MergeInspectionsFromBackup(ctx, mergeDoc(t, incoming), MergeUpdate)
	require.NoError(t, err)
	photos, err = e.c.PhotosByInspection(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, photos, 3, "named photos are updated in place, unnamed ones get fresh ids")
	assertMirrorMatchesStore(t, e)
}
