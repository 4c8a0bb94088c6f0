// Package migrations holds the versioned schema migrations run at startup
package migrations

import (
	"fmt"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func allTables() []any {
	return []any{
		&models.Entity{},
		&models.User{},
		&models.UniMapping{},
		&models.Form{},
		&models.FormField{},
		&models.FormSubmission{},
		&models.FormResponse{},
		&models.AllocationRequest{},
		&models.UtmCampaign{},
		&models.UtmSource{},
		&models.UtmMedium{},
		&models.HubSetting{},
		&models.UtmLink{},
		&models.ClickLog{},
		&models.Notification{},
	}
}

var initialise = &gormigrate.Migration{
	ID: "202610010900-initialise",
	Migrate: func(db *gorm.DB) error {
		return db.AutoMigrate(allTables()...)
	},
	Rollback: func(db *gorm.DB) error {
		tables := allTables()
		// reverse order so dependants go first
		for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
			tables[i], tables[j] = tables[j], tables[i]
		}
		return db.Migrator().DropTable(tables...)
	},
}

var seedNationalEntities = &gormigrate.Migration{
	ID: "202610010905-seed-national-entities",
	Migrate: func(db *gorm.DB) error {
		for _, name := range []string{utils.EntityNameEMT, utils.EntityNameOrganic} {
			var count int64
			if err := db.Model(&models.Entity{}).Where("name = ?", name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			e := &models.Entity{Name: name, Type: models.EntityTypeNational, IsActive: true}
			if err := db.Create(e).Error; err != nil {
				return fmt.Errorf("seed entity %s: %w", name, err)
			}
		}
		return nil
	},
	Rollback: func(db *gorm.DB) error {
		return db.Where("name IN ? AND type = ?", []string{utils.EntityNameEMT, utils.EntityNameOrganic}, models.EntityTypeNational).
			Delete(&models.Entity{}).Error
	},
}

// Migrate applies every pending migration in order
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		initialise,
		seedNationalEntities,
	})
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
