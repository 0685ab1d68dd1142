package pgsql

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GrainArc/LayerSync/models"
)

// Error is the class of database failures raised by this package.
var Error = errs.Class("pgsql")

// maxIdentifierLen is NAMEDATALEN-1; postgres silently truncates longer names.
const maxIdentifierLen = 63

// LayerIndex is one partial index scoped to a single layer's rows.
type LayerIndex struct {
	Name string
	DDL  string
}

func truncateIdent(name string) string {
	if len(name) > maxIdentifierLen {
		return name[:maxIdentifierLen]
	}
	return name
}

func GeometryIndexName(layer *models.Layer) string {
	return truncateIdent("idx_area_geom_layer_" + layer.Hex())
}

func StrategyIndexName(layer *models.Layer, strategy models.IndexingStrategy) string {
	switch strategy {
	case models.StrategyID:
		return truncateIdent("idx_area_original_id_layer_" + layer.Hex())
	default:
		return truncateIdent("idx_area_name_municipality_layer_" + layer.Hex())
	}
}

// LayerIndexes lists the geometry index and the reconciliation key index
// for the layer's strategy.
func LayerIndexes(layer *models.Layer) []LayerIndex {
	where := "WHERE layer_id = " + pq.QuoteLiteral(layer.ID.String())

	geom := GeometryIndexName(layer)
	out := []LayerIndex{{
		Name: geom,
		DDL: fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON area USING GIST (geometry) %s`,
			pq.QuoteIdentifier(geom), where),
	}}

	strategy := layer.ColOptions.IndexingStrategy
	name := StrategyIndexName(layer, strategy)
	columns := "(name, municipality)"
	if strategy == models.StrategyID {
		columns = "(original_id)"
	}
	out = append(out, LayerIndex{
		Name: name,
		DDL: fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON area %s %s`,
			pq.QuoteIdentifier(name), columns, where),
	})
	return out
}

// EnsureLayerIndexes creates the layer's partial indexes. It is safe to call
// repeatedly.
func EnsureLayerIndexes(ctx context.Context, db *gorm.DB, layer *models.Layer) error {
	for _, idx := range LayerIndexes(layer) {
		if err := db.WithContext(ctx).Exec(idx.DDL).Error; err != nil {
			return Error.New("create index %s: %v", idx.Name, err)
		}
	}
	return nil
}

// DropLayerIndexes removes every index LayerIndexes may have created for
// the layer, whichever strategy it used. Failures are only logged.
func DropLayerIndexes(ctx context.Context, db *gorm.DB, layer *models.Layer, log *zap.Logger) {
	names := []string{
		GeometryIndexName(layer),
		StrategyIndexName(layer, models.StrategyNameMunicipality),
		StrategyIndexName(layer, models.StrategyID),
	}
	for _, name := range names {
		err := db.WithContext(ctx).Exec("DROP INDEX IF EXISTS " + pq.QuoteIdentifier(name)).Error
		if err != nil {
			log.Warn("drop index failed", zap.String("index", name), zap.Error(err))
		}
	}
}
