// Package tilecache drops GeoWebCache tiles of published layers after their
// areas change.
package tilecache

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GrainArc/LayerSync/Transformer"
	"github.com/GrainArc/LayerSync/geoserver"
	"github.com/GrainArc/LayerSync/metrics"
	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/pgsql"
)

// Truncater is the GeoWebCache side of the invalidator.
type Truncater interface {
	Truncate(ctx context.Context, layer string, bounds geoserver.SeedBounds, opts geoserver.TruncateOptions) error
}

// Invalidator never returns errors: a stale tile is preferable to failing
// the write that made it stale.
type Invalidator struct {
	gwc     Truncater
	extents pgsql.ExtentSource
	reproj  Transformer.Reprojector
	opts    geoserver.TruncateOptions
	log     *zap.Logger
}

func NewInvalidator(gwc Truncater, extents pgsql.ExtentSource, reproj Transformer.Reprojector,
	opts geoserver.TruncateOptions, log *zap.Logger) *Invalidator {
	return &Invalidator{gwc: gwc, extents: extents, reproj: reproj, opts: opts, log: log.Named("tilecache")}
}

// InvalidateBBox truncates the tiles of both projections of the layer that
// intersect bbox. bbox is in its own SRID and is moved to the grid SRID.
func (inv *Invalidator) InvalidateBBox(ctx context.Context, layerID uuid.UUID, bbox *models.BoundingBox) {
	log := inv.log.With(zap.Stringer("layer", layerID))
	if bbox.IsEmpty() {
		log.Warn("no extent to invalidate")
		metrics.TileInvalidationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	grid, err := inv.toGrid(ctx, bbox)
	if err != nil || grid.IsEmpty() {
		log.Error("transform extent to grid", zap.Stringer("bbox", bbox), zap.Error(err))
		metrics.TileInvalidationsTotal.WithLabelValues("failed").Inc()
		return
	}

	bounds := geoserver.SeedBounds{MinX: grid.MinX, MinY: grid.MinY, MaxX: grid.MaxX, MaxY: grid.MaxY}
	for _, p := range pgsql.Projections {
		layer := pgsql.ViewName(layerID, p)
		if err := inv.gwc.Truncate(ctx, layer, bounds, inv.opts); err != nil {
			log.Error("truncate tiles", zap.String("gwcLayer", layer), zap.Error(err))
			metrics.TileInvalidationsTotal.WithLabelValues("failed").Inc()
			continue
		}
		log.Debug("tiles truncated", zap.String("gwcLayer", layer), zap.Stringer("bbox", grid))
		metrics.TileInvalidationsTotal.WithLabelValues("ok").Inc()
	}
}

// InvalidateFeatures invalidates the union extent of the given areas.
func (inv *Invalidator) InvalidateFeatures(ctx context.Context, layerID uuid.UUID, areaIDs []uuid.UUID) {
	bbox, err := inv.extents.AreasExtent(ctx, layerID, areaIDs)
	if err != nil {
		inv.log.Error("areas extent", zap.Stringer("layer", layerID), zap.Error(err))
		metrics.TileInvalidationsTotal.WithLabelValues("failed").Inc()
		return
	}
	inv.InvalidateBBox(ctx, layerID, bbox)
}

// InvalidateLayer invalidates the extent of every area left in the layer.
func (inv *Invalidator) InvalidateLayer(ctx context.Context, layerID uuid.UUID) {
	bbox, err := inv.extents.LayerExtent(ctx, layerID)
	if err != nil {
		inv.log.Error("layer extent", zap.Stringer("layer", layerID), zap.Error(err))
		metrics.TileInvalidationsTotal.WithLabelValues("failed").Inc()
		return
	}
	inv.InvalidateBBox(ctx, layerID, bbox)
}

func (inv *Invalidator) toGrid(ctx context.Context, bbox *models.BoundingBox) (*models.BoundingBox, error) {
	switch {
	case bbox.SRID == inv.opts.GridSRID:
		c := *bbox
		return &c, nil
	case bbox.SRID == 4326 && inv.opts.GridSRID == 3857:
		minX, minY := lonLatToMercator(bbox.MinX, bbox.MinY)
		maxX, maxY := lonLatToMercator(bbox.MaxX, bbox.MaxY)
		return &models.BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, SRID: 3857}, nil
	case bbox.SRID == 3857 && inv.opts.GridSRID == 4326:
		minX, minY := mercatorToLonLat(bbox.MinX, bbox.MinY)
		maxX, maxY := mercatorToLonLat(bbox.MaxX, bbox.MaxY)
		return &models.BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, SRID: 4326}, nil
	}
	return inv.reproj.TransformBBox(ctx, bbox, inv.opts.GridSRID)
}
