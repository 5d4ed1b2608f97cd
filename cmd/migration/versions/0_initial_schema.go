package versions

import (
	"log"

	"metro_platform/registry/schema"

	"gorm.io/gorm"
)

// Migration_0_initial_schema creates every registry table from scratch.
func Migration_0_initial_schema(txn *gorm.DB) error {
	if err := txn.Migrator().AutoMigrate(schema.AllModels()...); err != nil {
		return err
	}

	log.Println("initial registry schema created")

	return nil
}
