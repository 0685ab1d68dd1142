package pgsql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GrainArc/LayerSync/models"
)

// ErrNotFound is returned when a layer or area row does not exist.
var ErrNotFound = errs.Class("not found")

const insertBatchSize = 500

// AreaStore is the relational side of layers, areas and pictures.
type AreaStore interface {
	// Transaction runs fn against a store bound to one transaction. The
	// transaction is rolled back when fn returns an error or panics.
	Transaction(ctx context.Context, fn func(tx AreaStore) error) error

	CreateLayer(ctx context.Context, layer *models.Layer) error
	GetLayer(ctx context.Context, id uuid.UUID) (*models.Layer, error)
	UpdateLayer(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteLayer(ctx context.Context, id uuid.UUID) (int64, error)
	EnsureIndexes(ctx context.Context, layer *models.Layer) error
	DropIndexes(ctx context.Context, layer *models.Layer)

	ListAreas(ctx context.Context, layerID uuid.UUID) ([]*models.Area, error)
	GetArea(ctx context.Context, id uuid.UUID) (*models.Area, error)
	CreateAreas(ctx context.Context, areas []*models.Area) error
	SaveArea(ctx context.Context, area *models.Area) error
	DeleteAreas(ctx context.Context, ids []uuid.UUID) (int64, error)
	CreatePicture(ctx context.Context, picture *models.Picture) error
}

// ViewStore creates and drops the per layer projection views.
type ViewStore interface {
	CreateView(ctx context.Context, layerID uuid.UUID, p Projection) error
	DropView(ctx context.Context, layerID uuid.UUID, p Projection) error
}

// ExtentSource computes area extents in the layer SRID.
type ExtentSource interface {
	AreasExtent(ctx context.Context, layerID uuid.UUID, areaIDs []uuid.UUID) (*models.BoundingBox, error)
	LayerExtent(ctx context.Context, layerID uuid.UUID) (*models.BoundingBox, error)
}

// Store implements AreaStore, ViewStore and ExtentSource on gorm.
type Store struct {
	db   *gorm.DB
	srid int
	log  *zap.Logger
}

func NewStore(db *gorm.DB, srid int, log *zap.Logger) *Store {
	return &Store{db: db, srid: srid, log: log}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx AreaStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, srid: s.srid, log: s.log})
	})
}

func (s *Store) CreateLayer(ctx context.Context, layer *models.Layer) error {
	if err := s.db.WithContext(ctx).Create(layer).Error; err != nil {
		return Error.New("insert layer: %v", err)
	}
	return nil
}

func (s *Store) GetLayer(ctx context.Context, id uuid.UUID) (*models.Layer, error) {
	var layer models.Layer
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&layer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound.New("layer %s", id)
	}
	if err != nil {
		return nil, Error.New("load layer %s: %v", id, err)
	}
	return &layer, nil
}

func (s *Store) UpdateLayer(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Layer{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return Error.New("update layer %s: %v", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound.New("layer %s", id)
	}
	return nil
}

// DeleteLayer removes the layer row; areas and pictures go with it through
// the cascading foreign keys.
func (s *Store) DeleteLayer(ctx context.Context, id uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Layer{})
	if res.Error != nil {
		return 0, Error.New("delete layer %s: %v", id, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) EnsureIndexes(ctx context.Context, layer *models.Layer) error {
	return EnsureLayerIndexes(ctx, s.db, layer)
}

func (s *Store) DropIndexes(ctx context.Context, layer *models.Layer) {
	DropLayerIndexes(ctx, s.db, layer, s.log)
}

func (s *Store) ListAreas(ctx context.Context, layerID uuid.UUID) ([]*models.Area, error) {
	var areas []*models.Area
	err := s.db.WithContext(ctx).Where("layer_id = ?", layerID).Order("created_ts, id").Find(&areas).Error
	if err != nil {
		return nil, Error.New("list areas of %s: %v", layerID, err)
	}
	return areas, nil
}

func (s *Store) GetArea(ctx context.Context, id uuid.UUID) (*models.Area, error) {
	var area models.Area
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&area).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound.New("area %s", id)
	}
	if err != nil {
		return nil, Error.New("load area %s: %v", id, err)
	}
	return &area, nil
}

func (s *Store) CreateAreas(ctx context.Context, areas []*models.Area) error {
	if len(areas) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).CreateInBatches(areas, insertBatchSize).Error
	if err != nil {
		return Error.New("insert areas: %v", err)
	}
	return nil
}

func (s *Store) SaveArea(ctx context.Context, area *models.Area) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(area).Error; err != nil {
		return Error.New("save area %s: %v", area.ID, err)
	}
	return nil
}

func (s *Store) DeleteAreas(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	for start := 0; start < len(ids); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		res := s.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Delete(&models.Area{})
		if res.Error != nil {
			return total, Error.New("delete areas: %v", res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (s *Store) CreatePicture(ctx context.Context, picture *models.Picture) error {
	if err := s.db.WithContext(ctx).Create(picture).Error; err != nil {
		return Error.New("insert picture: %v", err)
	}
	return nil
}

func (s *Store) CreateView(ctx context.Context, layerID uuid.UUID, p Projection) error {
	return CreateView(ctx, s.db, layerID, p)
}

func (s *Store) DropView(ctx context.Context, layerID uuid.UUID, p Projection) error {
	return DropView(ctx, s.db, layerID, p)
}

type extentRow struct {
	MinX, MinY, MaxX, MaxY *float64
}

const extentSQL = `SELECT ST_XMin(e) AS min_x, ST_YMin(e) AS min_y, ST_XMax(e) AS max_x, ST_YMax(e) AS max_y
	FROM (SELECT ST_Extent(geometry) AS e FROM area WHERE layer_id = ?`

func (s *Store) AreasExtent(ctx context.Context, layerID uuid.UUID, areaIDs []uuid.UUID) (*models.BoundingBox, error) {
	if len(areaIDs) == 0 {
		return nil, nil
	}
	return s.extent(ctx, extentSQL+` AND id IN ?) t`, layerID, areaIDs)
}

func (s *Store) LayerExtent(ctx context.Context, layerID uuid.UUID) (*models.BoundingBox, error) {
	return s.extent(ctx, extentSQL+`) t`, layerID)
}

func (s *Store) extent(ctx context.Context, query string, args ...interface{}) (*models.BoundingBox, error) {
	var row extentRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return nil, Error.New("area extent: %v", err)
	}
	if row.MinX == nil || row.MinY == nil || row.MaxX == nil || row.MaxY == nil {
		return nil, nil
	}
	return &models.BoundingBox{MinX: *row.MinX, MinY: *row.MinY, MaxX: *row.MaxX, MaxY: *row.MaxY, SRID: s.srid}, nil
}
