package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Layer struct {
	ID                 uuid.UUID         `gorm:"type:uuid;primary_key"`
	Name               string            `gorm:"type:text;not null"`
	ColorCode          *string           `gorm:"type:text"`
	Symbol             *string           `gorm:"type:text"`
	Description        *string           `gorm:"type:text"`
	IsHidden           bool              `gorm:"not null;default:false"`
	ColOptions         ColumnOptions     `gorm:"type:jsonb;not null"`
	OriginalProperties datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedTs          time.Time         `gorm:"autoCreateTime"`
	UpdatedTs          time.Time         `gorm:"autoUpdateTime"`
}

func (l *Layer) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Hex is the layer id without dashes, used in index and view names.
func (l *Layer) Hex() string {
	return LayerHex(l.ID)
}

func LayerHex(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// LayerMeta is the user supplied description of a new layer.
type LayerMeta struct {
	Name        string
	ColorCode   *string
	Symbol      *string
	Description *string
	IsHidden    bool
}
