package migration

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// A Func applies one migration step.
type Func func(db *gorm.DB) error

var registry = map[string]Func{}

// Register records a named migration. Names sort lexically to give the run
// order, so they carry a numeric prefix.
func Register(name string, fn Func) error {
	if _, dup := registry[name]; dup {
		return fmt.Errorf("migration %q registered twice", name)
	}
	registry[name] = fn
	return nil
}

// appliedMigration tracks which migrations have run against this database.
type appliedMigration struct {
	Name      string    `gorm:"primaryKey;size:100"`
	AppliedAt time.Time `gorm:"not null"`
}

func (appliedMigration) TableName() string {
	return "schema_migrations"
}

// Run applies all registered migrations that have not run yet, in name order.
func Run(db *gorm.DB) error {
	if err := db.AutoMigrate(&appliedMigration{}); err != nil {
		return fmt.Errorf("prepare schema_migrations: %w", err)
	}

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var count int64
		if err := db.Model(&appliedMigration{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration %q: %w", name, err)
		}
		if count > 0 {
			continue
		}
		if err := registry[name](db); err != nil {
			return fmt.Errorf("apply migration %q: %w", name, err)
		}
		record := appliedMigration{Name: name, AppliedAt: time.Now()}
		if err := db.Create(&record).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", name, err)
		}
	}
	return nil
}
