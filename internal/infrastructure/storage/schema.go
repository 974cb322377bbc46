package storage

import (
	"fmt"

	"gorm.io/gorm"
)

// CurrentSchemaVersion is the compiled-in schema version. SchemaManager
// applies migrations up to this version and no further.
const CurrentSchemaVersion = 1

// Migration is one ordered, idempotent schema step.
type Migration struct {
	Version int
	Name    string
	Up      func(*gorm.DB) error
}

// migrations is the ordered list SchemaManager walks. Version 1 establishes
// the full baseline schema via AutoMigrate; later versions would append
// incremental Up functions.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "baseline schema",
		Up: func(db *gorm.DB) error {
			return db.AutoMigrate(
				&SessionModel{},
				&MessageModel{},
				&ArchivedMessageModel{},
				&InteractionLogModel{},
			)
		},
	},
}

// SchemaManager bootstraps and migrates the schema, tracking the applied
// version in a one-row schema_migrations table.
type SchemaManager struct {
	conn *ConnectionManager
}

// NewSchemaManager creates a SchemaManager over conn.
func NewSchemaManager(conn *ConnectionManager) *SchemaManager {
	return &SchemaManager{conn: conn}
}

// Migrate applies any migration whose version exceeds the stored version,
// in order, then records the new version. Calling it again when already
// current is a no-op.
func (m *SchemaManager) Migrate() error {
	db := m.conn.GetConnection()
	if err := db.AutoMigrate(&SchemaMigrationModel{}); err != nil {
		return fmt.Errorf("migrate schema_migrations table: %w", err)
	}

	current, err := m.Version()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := mig.Up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if err := m.setVersion(mig.Version); err != nil {
			return err
		}
		current = mig.Version
	}

	return nil
}

// Version returns the currently stored schema version, or 0 if none has
// been recorded yet.
func (m *SchemaManager) Version() (int, error) {
	var row SchemaMigrationModel
	err := m.conn.GetConnection().First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return row.Version, nil
}

func (m *SchemaManager) setVersion(version int) error {
	db := m.conn.GetConnection()
	var row SchemaMigrationModel
	err := db.First(&row).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return db.Create(&SchemaMigrationModel{Version: version}).Error
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		row.Version = version
		return db.Save(&row).Error
	}
}

// MigrationStatus describes one migration's applied/pending state, for the
// maintenance CLI's "migrations status" and "migrations list" subcommands.
type MigrationStatus struct {
	Version int
	Name    string
	Applied bool
}

// Status reports every known migration alongside whether it has been
// applied yet.
func (m *SchemaManager) Status() ([]MigrationStatus, error) {
	current, err := m.Version()
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.Version,
			Name:    mig.Name,
			Applied: mig.Version <= current,
		})
	}
	return statuses, nil
}
