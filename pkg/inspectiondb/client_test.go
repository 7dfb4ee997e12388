package inspectiondb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/config"
	"manhole-inspection/internal/meter"
	"manhole-inspection/internal/model"
	"manhole-inspection/internal/persistence"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.Blob.Dir = filepath.Join(dir, "blobs")
	cfg.Storage.ExportDir = filepath.Join(dir, "exports")
	return cfg
}

func open(t *testing.T, cfg config.Config) *Client {
	t.Helper()
	c, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpenWithFileBackend(t *testing.T) {
	ctx := context.Background()
	c := open(t, testConfig(t))
	assert.Equal(t, persistence.SourceDatabase, c.DataSource())
	assert.Len(t, c.Equipment(), 2)

	_, err := c.AddInspection(ctx, model.Inspection{ManholeID: 1, InspectionDate: "2024-05-01",
		Photos: []model.Photo{{Data: "a"}, {Data: "b"}}})
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Inspections)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(2), stats.Photos)
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	first, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	added, err := first.AddInspection(ctx, model.Inspection{ManholeID: 2, InspectionDate: "2024-05-01"})
	require.NoError(t, err)
	_, err = first.AddInspector(ctx, "Suzuki")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := open(t, cfg)
	got, ok := second.Inspection(added.ID)
	require.True(t, ok)
	assert.Equal(t, model.ID(2), got.ManholeID)
	require.Len(t, second.Inspectors(), 1)
}

func TestOpenWithRedisBackend(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.Blob.Backend = config.BlobRedis
	cfg.Storage.Blob.Redis.Addr = srv.Addr()

	c := open(t, cfg)
	_, err := c.AddInspector(context.Background(), "Ito")
	require.NoError(t, err)
	assert.True(t, srv.Exists("inspection:"+blob.KeyInspectors))
	assert.True(t, srv.Exists("inspection:"+blob.KeyManholes))
}

func TestOpenFailsWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Blob.Backend = config.BlobRedis
	cfg.Storage.Blob.Redis.Addr = "127.0.0.1:1"
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "connect redis")
}

func TestAutoBackupRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(t)
	cfg.Backup.AutoInterval = 10 * time.Millisecond
	c := open(t, cfg)

	done := make(chan error, 1)
	go func() { done <- c.RunAutoBackup(ctx) }()

	require.Eventually(t, func() bool {
		var snap persistence.AutoBackup
		found, err := blob.NewStore(blob.NewDirBackend(cfg.Storage.Blob.Dir), nil, nil).
			ReadDocument(context.Background(), blob.KeyAutoBackup, &snap)
		return err == nil && found && snap.AutoBackup
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPrefillInspectionFromPanel(t *testing.T) {
	sim := meter.NewSimulator(nil)
	require.NoError(t, sim.Listen("127.0.0.1:0"))
	t.Cleanup(sim.Close)

	points := []meter.Point{
		{Field: meter.FieldNo1Current, Address: 0, RegisterType: "holding", DataType: "float32"},
		{Field: meter.FieldNo2Current, Address: 2, RegisterType: "holding", DataType: "float32"},
	}
	require.NoError(t, sim.SetValues(points, map[meter.Field]float64{meter.FieldNo1Current: 16.5, meter.FieldNo2Current: 14.25}))

	cfg := testConfig(t)
	cfg.Meter.Panels = []meter.Panel{{EquipmentID: 1, Address: sim.Addr(), Timeout: time.Second, Points: points}}
	c := open(t, cfg)

	draft := model.Inspection{ManholeID: 1, InspectionDate: "2024-06-01"}
	require.NoError(t, c.PrefillInspection(context.Background(), &draft))
	v, ok := draft.No1Current.Float64()
	require.True(t, ok)
	assert.Equal(t, 16.5, v)

	eq, _ := c.EquipmentByID(1)
	assert.True(t, eq.CurrentWarningRange1.Contains(v))

	other := model.Inspection{ManholeID: 2}
	assert.ErrorIs(t, c.PrefillInspection(context.Background(), &other), ErrNoPanel)
}
