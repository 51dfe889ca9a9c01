package persistence

import (
	"fmt"

	"github.com/tablevec/tablevec/internal/database"
)

// AutoMigrate runs GORM auto migration for all models.
func AutoMigrate(db database.Database) error {
	// Migrate one model at a time; AutoMigrate with multiple models can
	// mis-handle composite keys on some drivers (go-gorm/gorm#7693).
	for _, model := range allModels() {
		if err := db.GORM().AutoMigrate(model); err != nil {
			return fmt.Errorf("auto migrate %T: %w", model, err)
		}
	}
	return nil
}

// allModels returns every GORM model that AutoMigrate manages.
func allModels() []any {
	return []any{
		&JobModel{},
		&EmbeddingRecordModel{},
	}
}
