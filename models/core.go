package models

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// GormConfig is shared by every connection the service opens.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}
}

// area and picture carry a generated column and cascading foreign keys
// that AutoMigrate cannot express, so they are created with plain DDL.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS area (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		layer_id uuid NOT NULL REFERENCES layer(id) ON DELETE CASCADE,
		geometry geometry,
		centroid geometry GENERATED ALWAYS AS (ST_Centroid(geometry)) STORED,
		name text NOT NULL,
		description text,
		municipality text,
		region text,
		area_ha numeric,
		date text,
		owner text,
		person_responsible text,
		original_id text,
		original_properties jsonb,
		created_ts timestamptz NOT NULL DEFAULT now(),
		updated_ts timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_area_layer_id ON area (layer_id)`,
	`CREATE TABLE IF NOT EXISTS picture (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		area_id uuid NOT NULL REFERENCES area(id) ON DELETE CASCADE,
		bucket_url text NOT NULL,
		is_visible boolean NOT NULL DEFAULT true,
		name text,
		date_added timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_picture_area_id ON picture (area_id)`,
}

// Migrate creates the service tables if they do not exist yet.
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)

	if err := db.Exec(schemaStatements[0]).Error; err != nil {
		return fmt.Errorf("enable postgis: %w", err)
	}
	if err := db.AutoMigrate(&Layer{}); err != nil {
		return fmt.Errorf("migrate layer: %w", err)
	}
	for _, stmt := range schemaStatements[1:] {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return MigrateJobs(db)
}

// MigrateJobs creates only the storage cleanup table. It works on any
// gorm dialect.
func MigrateJobs(db *gorm.DB) error {
	if err := db.AutoMigrate(&StorageDeletionJob{}); err != nil {
		return fmt.Errorf("migrate storage_deletion_job: %w", err)
	}
	return nil
}
