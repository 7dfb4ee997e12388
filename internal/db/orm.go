package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"manhole-inspection/internal/model"
)

// SchemaVersion is the latest schema the migrations produce.
// v1: inspections, sync_status. v2: photos.
const SchemaVersion = 2

// openORM opens a GORM SQLite connection on the pure-Go driver.
func openORM(path string) (*gorm.DB, error) {
	g, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        path + "?_pragma=busy_timeout(5000)",
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection keeps transactions simple.
	sqlDB.SetMaxOpenConns(1)
	return g, nil
}

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "1",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&model.InspectionRecord{}, &model.SyncStatusRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sync_status", "inspections")
			},
		},
		{
			ID: "2",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&model.PhotoRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("photos")
			},
		},
	}
}

// migrateORM upgrades the schema to version. Already applied versions are
// skipped, so running it on every start is safe and never drops data.
func migrateORM(db *gorm.DB, version int) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations())
	if version >= SchemaVersion {
		return m.Migrate()
	}
	return m.MigrateTo(migrations()[version-1].ID)
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
