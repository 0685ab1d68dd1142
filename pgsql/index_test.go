package pgsql

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrainArc/LayerSync/models"
)

var testLayerID = uuid.MustParse("6f1c2a3e-9b4d-4e8f-a1b2-c3d4e5f60718")

func TestLayerIndexesNameMunicipality(t *testing.T) {
	layer := &models.Layer{ID: testLayerID, ColOptions: models.ColumnOptions{
		IndexingStrategy: models.StrategyNameMunicipality,
		NameCol:          "nimi",
		MunicipalityCol:  "kunta",
	}}

	idx := LayerIndexes(layer)
	require.Len(t, idx, 2)

	assert.Equal(t, "idx_area_geom_layer_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718", idx[0].Name)
	assert.Equal(t,
		`CREATE INDEX IF NOT EXISTS "idx_area_geom_layer_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718" ON area USING GIST (geometry) WHERE layer_id = '6f1c2a3e-9b4d-4e8f-a1b2-c3d4e5f60718'`,
		idx[0].DDL)

	assert.Len(t, idx[1].Name, maxIdentifierLen)
	assert.True(t, strings.HasPrefix(idx[1].Name, "idx_area_name_municipality_layer_6f1c"))
	assert.Contains(t, idx[1].DDL, "CREATE UNIQUE INDEX IF NOT EXISTS")
	assert.Contains(t, idx[1].DDL, "ON area (name, municipality) WHERE layer_id =")
}

func TestLayerIndexesID(t *testing.T) {
	layer := &models.Layer{ID: testLayerID, ColOptions: models.ColumnOptions{
		IndexingStrategy: models.StrategyID,
		IDCol:            "tunnus",
		NameCol:          "nimi",
		MunicipalityCol:  "kunta",
	}}

	idx := LayerIndexes(layer)
	require.Len(t, idx, 2)
	assert.Equal(t, "idx_area_original_id_layer_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718", idx[1].Name)
	assert.Contains(t, idx[1].DDL, "ON area (original_id) WHERE")
}

func TestTruncateIdent(t *testing.T) {
	assert.Equal(t, "short", truncateIdent("short"))
	assert.Len(t, truncateIdent(strings.Repeat("x", 80)), 63)
}

func TestViewSQL(t *testing.T) {
	assert.Equal(t, "areas_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718", ViewName(testLayerID, ProjectionArea))
	assert.Equal(t, "areas_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718_centroid", ViewName(testLayerID, ProjectionCentroid))

	area := CreateViewSQL(testLayerID, ProjectionArea)
	assert.Contains(t, area, `CREATE OR REPLACE VIEW "areas_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718" AS`)
	assert.Contains(t, area, "SELECT id, name, municipality, region, area_ha, geometry")
	assert.Contains(t, area, "WHERE layer_id = '6f1c2a3e-9b4d-4e8f-a1b2-c3d4e5f60718'")

	centroid := CreateViewSQL(testLayerID, ProjectionCentroid)
	assert.Contains(t, centroid, "SELECT id, name, centroid AS geometry")
	assert.Contains(t, centroid, "centroid IS NOT NULL")

	assert.Equal(t,
		`DROP VIEW IF EXISTS "areas_6f1c2a3e9b4d4e8fa1b2c3d4e5f60718_centroid" CASCADE`,
		DropViewSQL(testLayerID, ProjectionCentroid))
}
