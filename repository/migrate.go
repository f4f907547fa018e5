package repository

import (
	"fmt"

	"github.com/clubroster/mailengine/models"
	"gorm.io/gorm"
)

// enum DDL has to run before AutoMigrate because gorm does not create
// Postgres enum types referenced in column tags
var enumDDL = []string{
	`DO $$ BEGIN
		CREATE TYPE email_delivery_status AS ENUM ('pending', 'scheduled', 'sending', 'sent', 'failed', 'cancelled');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`DO $$ BEGIN
		CREATE TYPE email_campaign_status AS ENUM ('active', 'completed', 'cancelled');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`DO $$ BEGIN
		CREATE TYPE scheduled_job_status AS ENUM ('active', 'completed', 'cancelled', 'failed');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
}

// Migrate creates the enum types and the tables for all persisted models
func Migrate(db *gorm.DB) error {
	for _, ddl := range enumDDL {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to create enum type: %w", err)
		}
	}
	if err := db.AutoMigrate(
		&models.EmailCampaign{},
		&models.EmailDelivery{},
		&models.ScheduledJob{},
		&models.DailySendQuota{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
