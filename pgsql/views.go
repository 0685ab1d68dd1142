package pgsql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/GrainArc/LayerSync/models"
)

// Projection is one published view of a layer.
type Projection string

const (
	ProjectionArea     Projection = "area"
	ProjectionCentroid Projection = "centroid"
)

var Projections = []Projection{ProjectionArea, ProjectionCentroid}

// ViewName is the database view, and GeoServer layer, of a projection.
func ViewName(layerID uuid.UUID, p Projection) string {
	name := "areas_" + models.LayerHex(layerID)
	if p == ProjectionCentroid {
		name += "_centroid"
	}
	return name
}

func CreateViewSQL(layerID uuid.UUID, p Projection) string {
	view := pq.QuoteIdentifier(ViewName(layerID, p))
	layer := pq.QuoteLiteral(layerID.String())
	if p == ProjectionCentroid {
		return fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
	SELECT id, name, centroid AS geometry
	FROM area
	WHERE layer_id = %s AND centroid IS NOT NULL`, view, layer)
	}
	return fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
	SELECT id, name, municipality, region, area_ha, geometry
	FROM area
	WHERE layer_id = %s`, view, layer)
}

func DropViewSQL(layerID uuid.UUID, p Projection) string {
	return "DROP VIEW IF EXISTS " + pq.QuoteIdentifier(ViewName(layerID, p)) + " CASCADE"
}

func CreateView(ctx context.Context, db *gorm.DB, layerID uuid.UUID, p Projection) error {
	if err := db.WithContext(ctx).Exec(CreateViewSQL(layerID, p)).Error; err != nil {
		return Error.New("create view %s: %v", ViewName(layerID, p), err)
	}
	return nil
}

func DropView(ctx context.Context, db *gorm.DB, layerID uuid.UUID, p Projection) error {
	if err := db.WithContext(ctx).Exec(DropViewSQL(layerID, p)).Error; err != nil {
		return Error.New("drop view %s: %v", ViewName(layerID, p), err)
	}
	return nil
}
