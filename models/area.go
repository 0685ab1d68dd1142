package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Area is a single polygon feature of a layer. Centroid is generated by
// the database and never written from Go.
type Area struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primary_key"`
	LayerID            uuid.UUID  `gorm:"type:uuid;not null;index"`
	Geometry           Geometry   `gorm:"type:geometry"`
	Centroid           *Geometry  `gorm:"type:geometry;->"`
	Name               string     `gorm:"type:text;not null"`
	Description        *string    `gorm:"type:text"`
	Municipality       *string    `gorm:"type:text"`
	Region             *string    `gorm:"type:text"`
	AreaHa             *float64   `gorm:"type:numeric"`
	Date               *string    `gorm:"type:text"`
	Owner              *string    `gorm:"type:text"`
	PersonResponsible  *string    `gorm:"type:text"`
	ExternalID         *string    `gorm:"column:original_id;type:text"`
	OriginalProperties Properties `gorm:"type:jsonb"`
	Pictures           []Picture  `gorm:"foreignKey:AreaID"`
	CreatedTs          time.Time  `gorm:"autoCreateTime"`
	UpdatedTs          time.Time  `gorm:"autoUpdateTime"`
}

func (a *Area) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

type Picture struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	AreaID    uuid.UUID `gorm:"type:uuid;not null;index"`
	BucketURL string    `gorm:"type:text;not null"`
	IsVisible bool      `gorm:"not null;default:true"`
	Name      *string   `gorm:"type:text"`
	DateAdded time.Time `gorm:"autoCreateTime"`
}

func (p *Picture) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// StorageDeletionJob is a durable request to remove an object storage bucket.
type StorageDeletionJob struct {
	BucketName    string    `gorm:"primaryKey;type:text"`
	Attempts      int       `gorm:"not null;default:0"`
	LastError     *string   `gorm:"type:text"`
	NextAttemptTs time.Time `gorm:"not null;index"`
	CreatedTs     time.Time `gorm:"autoCreateTime"`
	UpdatedTs     time.Time `gorm:"autoUpdateTime"`
}
