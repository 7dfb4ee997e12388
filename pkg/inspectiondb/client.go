// Package inspectiondb is the stable entry point for programs that need the
// inspection data: it opens the stores named by a config.Config and exposes
// the coordinator that owns them.
package inspectiondb

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"manhole-inspection/internal/blob"
	"manhole-inspection/internal/config"
	"manhole-inspection/internal/db"
	"manhole-inspection/internal/meter"
	"manhole-inspection/internal/model"
	"manhole-inspection/internal/output"
	"manhole-inspection/internal/persistence"
	"manhole-inspection/internal/tasks"
)

// ErrNoPanel is returned when an equipment has no meter panel configured.
var ErrNoPanel = errors.New("no meter panel configured")

// Client embeds the coordinator, so every data operation is available
// directly on it.
type Client struct {
	*persistence.Coordinator

	cfg     config.Config
	log     *zap.Logger
	records *db.RecordStore
	redis   *redis.Client
}

// Option customises Open.
type Option func(*options)

type options struct {
	coordinator []persistence.Option
	records     []db.Option
}

// WithCoordinatorOptions passes options through to persistence.New.
func WithCoordinatorOptions(opts ...persistence.Option) Option {
	return func(o *options) { o.coordinator = append(o.coordinator, opts...) }
}

// WithRecordStoreOptions passes options through to db.NewRecordStore.
func WithRecordStoreOptions(opts ...db.Option) Option {
	return func(o *options) { o.records = append(o.records, opts...) }
}

// Open builds the stores from cfg and loads all data. A record store that
// cannot be opened does not fail Open; the client then runs on the fallback
// store, as DataSource reports.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	c := &Client{cfg: cfg, log: log}
	var backend blob.Backend
	switch cfg.Storage.Blob.Backend {
	case config.BlobRedis:
		rc := cfg.Storage.Blob.Redis
		c.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.redis.Close()
			return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
		}
		backend = blob.NewRedisBackend(c.redis, rc.KeyPrefix)
	case config.BlobFile, "":
		backend = blob.NewDirBackend(cfg.Storage.Blob.Dir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Storage.Blob.Backend)
	}

	c.records = db.NewRecordStore(cfg.Storage.DBPath, log.Named("records"), o.records...)
	blobs := blob.NewStore(backend, output.DirSaver{Dir: cfg.Storage.ExportDir}, log.Named("blobs"))
	c.Coordinator = persistence.New(c.records, blobs, log, o.coordinator...)

	if err := c.LoadAll(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the record store and the Redis connection.
func (c *Client) Close() error {
	err := c.Coordinator.Close()
	if c.redis != nil {
		err = errors.Join(err, c.redis.Close())
	}
	return err
}

// Stats counts what the record store holds.
func (c *Client) Stats(ctx context.Context) (db.Stats, error) {
	return c.records.Stats(ctx)
}

// AutoBackup returns the configured periodic snapshot runner.
func (c *Client) AutoBackup() *tasks.AutoBackup {
	return &tasks.AutoBackup{
		Target:   c.Coordinator,
		Interval: c.cfg.Backup.AutoInterval,
		Log:      c.log.Named("autobackup"),
	}
}

// RunAutoBackup blocks, snapshotting until ctx ends, unless auto backup is
// disabled in the configuration.
func (c *Client) RunAutoBackup(ctx context.Context) error {
	if c.cfg.Backup.DisableAuto {
		c.log.Info("auto backup disabled")
		<-ctx.Done()
		return nil
	}
	return c.AutoBackup().Run(ctx)
}

// ReadPanel reads the meter panel configured for an equipment.
func (c *Client) ReadPanel(ctx context.Context, equipmentID model.ID) (meter.Readings, error) {
	panel, ok := meter.FindPanel(c.cfg.Meter.Panels, equipmentID)
	if !ok {
		return meter.Readings{}, fmt.Errorf("equipment %d: %w", equipmentID, ErrNoPanel)
	}
	r, err := meter.NewReader(panel, c.log.Named("meter"))
	if err != nil {
		return meter.Readings{}, err
	}
	return r.Read(ctx)
}

// PrefillInspection copies the panel readings of the draft's equipment onto
// the draft.
func (c *Client) PrefillInspection(ctx context.Context, draft *model.Inspection) error {
	readings, err := c.ReadPanel(ctx, draft.ManholeID)
	if err != nil {
		return err
	}
	readings.Apply(draft)
	return nil
}
