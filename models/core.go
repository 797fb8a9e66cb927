package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 批量迁移所有表
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&Dataset{},
		&Branch{},
		&Feature{},
		&MergeRequest{},
		&FeatureChange{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}
