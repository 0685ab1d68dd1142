package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/GrainArc/LayerSync/Transformer"
	"github.com/GrainArc/LayerSync/methods"
	"github.com/GrainArc/LayerSync/metrics"
	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/pgsql"
)

// UpdateReport counts what a reconciliation did to a layer.
type UpdateReport struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
}

func (r *UpdateReport) fields() []zap.Field {
	return []zap.Field{
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("unchanged", r.Unchanged),
		zap.Int("deleted", r.Deleted),
		zap.Int("skipped", r.Skipped),
	}
}

// Reconciler loads shapefile archives into layers.
type Reconciler struct {
	store   pgsql.AreaStore
	reproj  Transformer.Reprojector
	srid    int
	tempDir string
	log     *zap.Logger
}

// NewReconciler stores every geometry in layerSRID. Archives are extracted
// below tempDir, or the system temp directory when it is empty.
func NewReconciler(store pgsql.AreaStore, reproj Transformer.Reprojector, layerSRID int, tempDir string, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, reproj: reproj, srid: layerSRID, tempDir: tempDir, log: log.Named("reconciler")}
}

type incomingFeature struct {
	index  int
	key    methods.ReconciliationKey
	mapped methods.MappedColumns
	geom   models.Geometry
	props  *models.Properties
}

type preparedBatch struct {
	features []incomingFeature
	skipped  int
	// kept holds the keys of features skipped for their geometry. Stored
	// areas with these keys are left untouched, never deleted.
	kept     map[methods.ReconciliationKey]bool
	columns  []string
	srid     int
	crs      string
	charset  string
}

// ImportShapefile creates a layer and all its areas in one transaction.
func (r *Reconciler) ImportShapefile(ctx context.Context, meta models.LayerMeta, opts models.ColumnOptions, archivePath string) (_ *models.Layer, err error) {
	start := time.Now()
	defer observe("import", start, &err)

	if err := opts.Validate(); err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	if meta.Name == "" {
		return nil, ErrValidation.New("layer name is required")
	}

	batch, err := r.prepare(ctx, opts, archivePath)
	if err != nil {
		return nil, err
	}

	layer := &models.Layer{
		ID:          uuid.New(),
		Name:        meta.Name,
		ColorCode:   meta.ColorCode,
		Symbol:      meta.Symbol,
		Description: meta.Description,
		IsHidden:    meta.IsHidden,
		ColOptions:  opts,
		OriginalProperties: datatypes.JSONMap{
			"columns": batch.columns,
			"srid":    batch.srid,
			"crs":     batch.crs,
			"charset": batch.charset,
		},
	}
	log := r.log.With(zap.Stringer("layer", layer.ID))

	// later duplicates overwrite earlier ones in file order
	byKey := make(map[methods.ReconciliationKey]*models.Area)
	fallback := make(map[uuid.UUID]bool)
	var areas []*models.Area
	for _, f := range batch.features {
		if existing, ok := byKey[f.key]; ok {
			mergeNew(existing, f, fallback)
			log.Debug("duplicate key in archive", zap.Stringer("key", f.key), zap.Int("feature", f.index))
			continue
		}
		area := r.newArea(layer.ID, f, fallback)
		byKey[f.key] = area
		areas = append(areas, area)
	}

	err = r.store.Transaction(ctx, func(tx pgsql.AreaStore) error {
		if err := tx.CreateLayer(ctx, layer); err != nil {
			return err
		}
		if err := tx.EnsureIndexes(ctx, layer); err != nil {
			return err
		}
		return tx.CreateAreas(ctx, areas)
	})
	if err != nil {
		return nil, ErrTransaction.Wrap(err)
	}

	metrics.AreasReconciledTotal.WithLabelValues("created").Add(float64(len(areas)))
	metrics.AreasReconciledTotal.WithLabelValues("skipped").Add(float64(batch.skipped))
	log.Info("layer imported", zap.String("name", layer.Name), zap.Int("areas", len(areas)),
		zap.Int("skipped", batch.skipped), zap.Int("sourceSRID", batch.srid))
	return layer, nil
}

// UpdateLayerAreas reconciles an archive against the stored areas of a
// layer. The returned box covers every area whose geometry changed, was
// created or was deleted, in the layer SRID; it is nil when none did.
func (r *Reconciler) UpdateLayerAreas(ctx context.Context, layerID uuid.UUID, opts models.ColumnOptions, archivePath string, deleteUnmatched bool) (_ *models.BoundingBox, _ *UpdateReport, err error) {
	start := time.Now()
	defer observe("update", start, &err)

	if err := opts.Validate(); err != nil {
		return nil, nil, ErrValidation.Wrap(err)
	}
	layer, err := r.store.GetLayer(ctx, layerID)
	if err != nil {
		return nil, nil, storeError(err)
	}
	if layer.ColOptions.IndexingStrategy != opts.IndexingStrategy {
		return nil, nil, ErrValidation.New("layer uses the %q strategy, got %q",
			layer.ColOptions.IndexingStrategy, opts.IndexingStrategy)
	}

	batch, err := r.prepare(ctx, opts, archivePath)
	if err != nil {
		return nil, nil, err
	}

	log := r.log.With(zap.Stringer("layer", layerID))
	var (
		report *UpdateReport
		bbox   *models.BoundingBox
	)
	err = r.store.Transaction(ctx, func(tx pgsql.AreaStore) error {
		report = &UpdateReport{Skipped: batch.skipped}
		bbox = nil

		existing, err := tx.ListAreas(ctx, layerID)
		if err != nil {
			return err
		}
		byKey := make(map[methods.ReconciliationKey]*models.Area, len(existing))
		keyed := make([]*models.Area, 0, len(existing))
		for _, area := range existing {
			key, ok := methods.KeyOfArea(opts, area)
			if !ok {
				continue
			}
			if _, dup := byKey[key]; dup {
				log.Warn("stored areas share a key", zap.Stringer("key", key), zap.Stringer("area", area.ID))
				continue
			}
			byKey[key] = area
			keyed = append(keyed, area)
		}

		var (
			created  []*models.Area
			isNew    = make(map[uuid.UUID]bool)
			fallback = make(map[uuid.UUID]bool)
			seen     = make(map[uuid.UUID]bool)
			kept     = make(map[uuid.UUID]bool)
			dirty    []*models.Area
			isDirty  = make(map[uuid.UUID]bool)
		)
		for key := range batch.kept {
			if area, ok := byKey[key]; ok {
				kept[area.ID] = true
			}
		}
		for _, f := range batch.features {
			area, ok := byKey[f.key]
			if !ok {
				area = r.newArea(layerID, f, fallback)
				byKey[f.key] = area
				isNew[area.ID] = true
				created = append(created, area)
				bbox = bbox.Union(area.Geometry.Extent())
				continue
			}
			if isNew[area.ID] {
				mergeNew(area, f, fallback)
				bbox = bbox.Union(area.Geometry.Extent())
				continue
			}

			before := area.Geometry.Extent()
			res := methods.MergeArea(area, f.mapped, f.geom, f.props)
			seen[area.ID] = true
			if res.GeometryChanged {
				bbox = bbox.Union(before).Union(area.Geometry.Extent())
			}
			if res.Changed && !isDirty[area.ID] {
				isDirty[area.ID] = true
				dirty = append(dirty, area)
			}
		}

		for _, area := range dirty {
			if err := tx.SaveArea(ctx, area); err != nil {
				return err
			}
		}
		if err := tx.CreateAreas(ctx, created); err != nil {
			return err
		}
		report.Created = len(created)
		report.Updated = len(dirty)
		report.Unchanged = len(seen) - len(dirty)

		if deleteUnmatched {
			var ids []uuid.UUID
			for _, area := range keyed {
				if seen[area.ID] || kept[area.ID] {
					continue
				}
				ids = append(ids, area.ID)
				bbox = bbox.Union(area.Geometry.Extent())
			}
			n, err := tx.DeleteAreas(ctx, ids)
			if err != nil {
				return err
			}
			report.Deleted = int(n)
		}
		return nil
	})
	if err != nil {
		return nil, nil, ErrTransaction.Wrap(err)
	}

	metrics.AreasReconciledTotal.WithLabelValues("created").Add(float64(report.Created))
	metrics.AreasReconciledTotal.WithLabelValues("updated").Add(float64(report.Updated))
	metrics.AreasReconciledTotal.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	metrics.AreasReconciledTotal.WithLabelValues("deleted").Add(float64(report.Deleted))
	metrics.AreasReconciledTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	log.Info("layer updated", append(report.fields(), zap.Bool("deleteUnmatched", deleteUnmatched),
		zap.Stringer("bbox", bbox))...)
	return bbox, report, nil
}

// newArea builds an area from its first feature. Areas whose size comes
// from the geometry are recorded in fallback.
func (r *Reconciler) newArea(layerID uuid.UUID, f incomingFeature, fallback map[uuid.UUID]bool) *models.Area {
	area := &models.Area{
		ID:                 uuid.New(),
		LayerID:            layerID,
		Name:               fmt.Sprintf("Area %d", f.index+1),
		Geometry:           f.geom,
		OriginalProperties: *f.props.Clone(),
	}
	methods.MergeArea(area, f.mapped, f.geom, f.props)
	if area.AreaHa == nil {
		ha := Transformer.FallbackAreaHa(f.geom.Geometry)
		area.AreaHa = &ha
		fallback[area.ID] = true
	}
	return area
}

// mergeNew folds a later duplicate into an area created by the same batch.
// A fallback size follows the replaced geometry.
func mergeNew(area *models.Area, f incomingFeature, fallback map[uuid.UUID]bool) {
	methods.MergeArea(area, f.mapped, f.geom, f.props)
	switch {
	case f.mapped.AreaHa != nil:
		delete(fallback, area.ID)
	case fallback[area.ID]:
		ha := Transformer.FallbackAreaHa(area.Geometry.Geometry)
		area.AreaHa = &ha
	}
}

// prepare extracts and reads the archive, then reprojects the features
// into the layer SRID and derives their keys.
func (r *Reconciler) prepare(ctx context.Context, opts models.ColumnOptions, archivePath string) (*preparedBatch, error) {
	dir, err := os.MkdirTemp(r.tempDir, "layersync-")
	if err != nil {
		return nil, ErrStorage.New("create temp dir: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.log.Warn("remove temp dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	if err := methods.ExtractArchive(archivePath, dir); err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	shpPath, err := Transformer.FindShapefile(dir)
	if err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	shpPath, err = Transformer.LowerExtensions(shpPath)
	if err != nil {
		return nil, ErrStorage.Wrap(err)
	}
	fc, err := Transformer.ReadShapefile(shpPath)
	if err != nil {
		return nil, ErrValidation.Wrap(err)
	}
	if err := requireKeyColumns(opts, fc.Columns); err != nil {
		return nil, err
	}

	srid := fc.SRID
	if srid == 0 && fc.PRJ != "" {
		srid, err = r.reproj.ResolveSRID(ctx, fc.PRJ)
		if err != nil {
			return nil, ErrTransaction.Wrap(err)
		}
	}
	if srid == 0 {
		return nil, ErrValidation.New("cannot determine the coordinate system of %s (crs %q)",
			filepath.Base(shpPath), fc.CRS)
	}

	geoms := make([]orb.Geometry, len(fc.Features))
	for i, f := range fc.Features {
		geoms[i] = f.Geometry
	}
	projected, err := r.reproj.Reproject(ctx, geoms, srid, r.srid)
	if err != nil {
		return nil, ErrTransaction.Wrap(err)
	}

	batch := &preparedBatch{
		columns: fc.Columns,
		srid:    srid,
		crs:     fc.CRS,
		charset: fc.Charset,
		kept:    make(map[methods.ReconciliationKey]bool),
	}
	for i, f := range fc.Features {
		f.Properties.Sanitize()
		key, ok := methods.DeriveKey(opts, f.Properties)
		if !ok {
			r.log.Warn("skipping feature without reconciliation key", zap.Int("feature", f.Index),
				zap.String("strategy", string(opts.IndexingStrategy)))
			batch.skipped++
			continue
		}
		geom := models.NewGeometry(projected[i], r.srid)
		if geom.IsEmpty() {
			r.log.Warn("skipping feature without geometry", zap.Int("feature", f.Index), zap.Stringer("key", key))
			batch.skipped++
			batch.kept[key] = true
			continue
		}
		mapped := methods.ExtractMapped(opts, f.Properties)
		batch.features = append(batch.features, incomingFeature{
			index:  f.Index,
			key:    key,
			mapped: mapped,
			geom:   geom,
			props:  f.Properties,
		})
	}
	return batch, nil
}

func requireKeyColumns(opts models.ColumnOptions, columns []string) error {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	required := []string{opts.NameCol, opts.MunicipalityCol}
	if opts.IndexingStrategy == models.StrategyID {
		required = []string{opts.IDCol}
	}
	for _, col := range required {
		if !present[col] {
			return ErrValidation.New("column %q not found in shapefile", col)
		}
	}
	return nil
}

func storeError(err error) error {
	if pgsql.ErrNotFound.Has(err) {
		return ErrNotFound.Wrap(err)
	}
	return ErrTransaction.Wrap(err)
}

func observe(kind string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = "failed"
	}
	metrics.ImportsTotal.WithLabelValues(kind, outcome).Inc()
	metrics.ImportDurationMs.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
}
