package services

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GrainArc/LayerSync/methods"
	"github.com/GrainArc/LayerSync/metrics"
	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/pgsql"
)

// TileInvalidator drops cached tiles. It reports nothing back.
type TileInvalidator interface {
	InvalidateBBox(ctx context.Context, layerID uuid.UUID, bbox *models.BoundingBox)
	InvalidateFeatures(ctx context.Context, layerID uuid.UUID, areaIDs []uuid.UUID)
	InvalidateLayer(ctx context.Context, layerID uuid.UUID)
}

// PictureStorage is the object storage side of layers.
type PictureStorage interface {
	BucketDeleter
	BucketName(layerID uuid.UUID) string
	UploadPicture(ctx context.Context, layerID, areaID, pictureID uuid.UUID,
		filename, contentType string, body io.ReadSeeker, size int64) (string, error)
}

// DeletionQueue takes bucket deletions that could not be done right away.
type DeletionQueue interface {
	Enqueue(ctx context.Context, bucket string) error
}

// PictureUpload is one photo attached to an area.
type PictureUpload struct {
	Filename    string
	ContentType string
	Name        *string
	Body        io.ReadSeeker
	Size        int64
}

// LayerService runs the multi system workflows of a layer. Mutations of
// one layer never overlap.
type LayerService struct {
	store      pgsql.AreaStore
	reconciler *Reconciler
	publisher  *Publisher
	tiles      TileInvalidator
	pictures   PictureStorage
	queue      DeletionQueue
	locker     methods.LayerLocker
	srid       int
	log        *zap.Logger
}

func NewLayerService(store pgsql.AreaStore, reconciler *Reconciler, publisher *Publisher, tiles TileInvalidator,
	pictures PictureStorage, queue DeletionQueue, locker methods.LayerLocker, layerSRID int, log *zap.Logger) *LayerService {
	return &LayerService{
		store:      store,
		reconciler: reconciler,
		publisher:  publisher,
		tiles:      tiles,
		pictures:   pictures,
		queue:      queue,
		locker:     locker,
		srid:       layerSRID,
		log:        log.Named("layers"),
	}
}

func (s *LayerService) lock(ctx context.Context, layerID uuid.UUID) (func(), error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, layerID.String())
	metrics.LockWaitMs.Observe(float64(time.Since(start).Milliseconds()))
	return unlock, err
}

// CreateLayer imports the archive and publishes the new layer. Publishing
// is part of creation: when it fails the layer is removed again.
func (s *LayerService) CreateLayer(ctx context.Context, meta models.LayerMeta, opts models.ColumnOptions, archivePath string) (*models.Layer, ProjectionStatus, error) {
	layer, err := s.reconciler.ImportShapefile(ctx, meta, opts, archivePath)
	if err != nil {
		return nil, ProjectionStatus{}, err
	}

	unlock, err := s.lock(ctx, layer.ID)
	if err != nil {
		return nil, ProjectionStatus{}, err
	}
	defer unlock()

	status, err := s.publisher.PublishLayer(ctx, layer.ID, layer.Name, layer.IsHidden)
	if err != nil {
		cctx := context.WithoutCancel(ctx)
		s.store.DropIndexes(cctx, layer)
		if _, derr := s.store.DeleteLayer(cctx, layer.ID); derr != nil {
			s.log.Error("remove unpublished layer", zap.Stringer("layer", layer.ID), zap.Error(derr))
		}
		return nil, status, err
	}

	s.tiles.InvalidateLayer(ctx, layer.ID)
	return layer, status, nil
}

// UpdateLayer reconciles the archive into the layer and invalidates the
// tiles the change touched.
func (s *LayerService) UpdateLayer(ctx context.Context, layerID uuid.UUID, opts models.ColumnOptions, archivePath string, deleteUnmatched bool) (*UpdateReport, error) {
	unlock, err := s.lock(ctx, layerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bbox, report, err := s.reconciler.UpdateLayerAreas(ctx, layerID, opts, archivePath, deleteUnmatched)
	if err != nil {
		return nil, err
	}
	if bbox != nil {
		s.tiles.InvalidateBBox(ctx, layerID, bbox)
	}
	return report, nil
}

// DeleteLayer tears the layer down everywhere. Remote failures do not stop
// the deletion; the report tells what was actually removed.
func (s *LayerService) DeleteLayer(ctx context.Context, layerID uuid.UUID) (DeletionReport, error) {
	unlock, err := s.lock(ctx, layerID)
	if err != nil {
		return DeletionReport{}, err
	}
	defer unlock()

	layer, err := s.store.GetLayer(ctx, layerID)
	if err != nil {
		return DeletionReport{}, storeError(err)
	}
	log := s.log.With(zap.Stringer("layer", layerID))

	report := s.publisher.UnpublishLayer(ctx, layerID)

	bucket := s.pictures.BucketName(layerID)
	if err := s.pictures.DeleteBucket(ctx, bucket); err != nil {
		log.Warn("bucket deletion failed, queueing", zap.String("bucket", bucket), zap.Error(err))
		if qerr := s.queue.Enqueue(ctx, bucket); qerr != nil {
			log.Error("queue bucket deletion", zap.String("bucket", bucket), zap.Error(qerr))
		} else {
			report.BucketQueued = true
		}
	} else {
		report.BucketDeleted = true
	}

	s.store.DropIndexes(ctx, layer)

	n, err := s.store.DeleteLayer(ctx, layerID)
	if err != nil {
		return report, ErrTransaction.Wrap(err)
	}
	report.DBRowsDeleted = n

	log.Info("layer deleted",
		zap.Int64("rows", n),
		zap.Bool("published", report.Succeeded()),
		zap.Bool("bucketDeleted", report.BucketDeleted),
		zap.Bool("bucketQueued", report.BucketQueued))
	return report, nil
}

// SetVisibility updates the ACL rules and the stored flag. Nothing happens
// when the flag already has the requested value.
func (s *LayerService) SetVisibility(ctx context.Context, layerID uuid.UUID, hidden bool) error {
	unlock, err := s.lock(ctx, layerID)
	if err != nil {
		return err
	}
	defer unlock()

	layer, err := s.store.GetLayer(ctx, layerID)
	if err != nil {
		return storeError(err)
	}
	if layer.IsHidden == hidden {
		return nil
	}
	if err := s.publisher.SetVisibility(ctx, layerID, hidden); err != nil {
		return err
	}
	if err := s.store.UpdateLayer(ctx, layerID, map[string]interface{}{"is_hidden": hidden}); err != nil {
		return storeError(err)
	}
	return nil
}

// AddPicture uploads a photo of an area and records it.
func (s *LayerService) AddPicture(ctx context.Context, areaID uuid.UUID, upload PictureUpload) (*models.Picture, error) {
	area, err := s.store.GetArea(ctx, areaID)
	if err != nil {
		return nil, storeError(err)
	}

	unlock, err := s.lock(ctx, area.LayerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	picture := &models.Picture{ID: uuid.New(), AreaID: areaID, IsVisible: true, Name: upload.Name}
	url, err := s.pictures.UploadPicture(ctx, area.LayerID, areaID, picture.ID,
		upload.Filename, upload.ContentType, upload.Body, upload.Size)
	if err != nil {
		return nil, err
	}
	picture.BucketURL = url
	if err := s.store.CreatePicture(ctx, picture); err != nil {
		return nil, ErrTransaction.Wrap(err)
	}

	s.tiles.InvalidateFeatures(ctx, area.LayerID, []uuid.UUID{areaID})
	return picture, nil
}

// InvalidateCache drops tiles of a layer: inside bbox when given, else
// around the listed areas, else the whole layer. A bbox without SRID is
// taken to be in the layer SRID.
func (s *LayerService) InvalidateCache(ctx context.Context, layerID uuid.UUID, bbox *models.BoundingBox, areaIDs []uuid.UUID) error {
	if _, err := s.store.GetLayer(ctx, layerID); err != nil {
		return storeError(err)
	}
	switch {
	case bbox != nil:
		if bbox.IsEmpty() {
			return ErrValidation.New("empty bbox")
		}
		b := *bbox
		if b.SRID == 0 {
			b.SRID = s.srid
		}
		s.tiles.InvalidateBBox(ctx, layerID, &b)
	case len(areaIDs) > 0:
		s.tiles.InvalidateFeatures(ctx, layerID, areaIDs)
	default:
		s.tiles.InvalidateLayer(ctx, layerID)
	}
	return nil
}

// GetLayer loads one layer.
func (s *LayerService) GetLayer(ctx context.Context, layerID uuid.UUID) (*models.Layer, error) {
	layer, err := s.store.GetLayer(ctx, layerID)
	if err != nil {
		return nil, storeError(err)
	}
	return layer, nil
}
