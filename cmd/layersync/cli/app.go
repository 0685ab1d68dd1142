package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GrainArc/LayerSync/Transformer"
	"github.com/GrainArc/LayerSync/config"
	"github.com/GrainArc/LayerSync/geoserver"
	"github.com/GrainArc/LayerSync/methods"
	"github.com/GrainArc/LayerSync/pgsql"
	"github.com/GrainArc/LayerSync/services"
	"github.com/GrainArc/LayerSync/tilecache"
	"github.com/GrainArc/LayerSync/views"
)

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// app holds the services every command shares.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	buckets *services.BucketService
	queue   *services.CleanupQueue
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	db, err := config.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	buckets, err := services.NewBucketService(services.BucketConfig{
		Endpoint:              cfg.Storage.Endpoint,
		AccessKey:             cfg.Storage.AccessKey,
		SecretKey:             cfg.Storage.SecretKey,
		Region:                cfg.Storage.Region,
		Secure:                cfg.Storage.Secure,
		BucketPrefix:          cfg.Storage.BucketPrefix,
		PublicBaseURL:         cfg.Storage.PublicBaseURL,
		DialTimeout:           cfg.Storage.DialTimeout,
		ResponseHeaderTimeout: cfg.Storage.ResponseHeaderTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		buckets: buckets,
		queue:   services.NewCleanupQueue(db, buckets, cfg.Cleanup.MaxBackoffMinutes, log),
	}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	return a, nil
}

func (a *app) locker() methods.LayerLocker {
	if a.redis == nil {
		return methods.NewLocalLocker()
	}
	return methods.NewRedisLocker(a.redis, a.cfg.Redis.KeyPrefix, a.cfg.Redis.LockTTL)
}

// layerHandler wires the layer service behind the HTTP handler.
func (a *app) layerHandler() *views.LayerHandler {
	cfg := a.cfg
	store := pgsql.NewStore(a.db, cfg.Layer.SRID, a.log)
	reproj := Transformer.NewPostGISReprojector(a.db)

	gs := geoserver.NewClient(geoserver.Config{
		URL:            cfg.GeoServer.URL,
		User:           cfg.GeoServer.User,
		Password:       cfg.GeoServer.Password,
		Workspace:      cfg.GeoServer.Workspace,
		Store:          cfg.GeoServer.Store,
		ConnectTimeout: cfg.GeoServer.ConnectTimeout,
		RequestTimeout: cfg.GeoServer.RequestTimeout,
	}, a.log)

	tiles := tilecache.NewInvalidator(gs, store, reproj, geoserver.TruncateOptions{
		GridSRID:  cfg.TileCache.GridSRID,
		GridSetID: cfg.TileCache.GridSetID,
		Format:    cfg.TileCache.Format,
		ZoomStart: cfg.TileCache.ZoomStart,
		ZoomStop:  cfg.TileCache.ZoomStop,
	}, a.log)

	bbox := cfg.GeoServer.NativeBBox
	publisher := services.NewPublisher(store, gs, services.PublisherConfig{
		Workspace:     cfg.GeoServer.Workspace,
		Store:         cfg.GeoServer.Store,
		SRID:          cfg.Layer.SRID,
		NativeBBox:    geoserver.CRSBox{MinX: bbox.MinX, MinY: bbox.MinY, MaxX: bbox.MaxX, MaxY: bbox.MaxY},
		AreaStyle:     cfg.GeoServer.AreaStyle,
		CentroidStyle: cfg.GeoServer.CentroidStyle,
		HiddenRoles:   cfg.GeoServer.HiddenRoles,
		PublicRoles:   cfg.GeoServer.PublicRoles,
		EditorRoles:   cfg.GeoServer.EditorRoles,
	}, a.log)

	reconciler := services.NewReconciler(store, reproj, cfg.Layer.SRID, cfg.Layer.TempDir, a.log)
	layers := services.NewLayerService(store, reconciler, publisher, tiles, a.buckets, a.queue,
		a.locker(), cfg.Layer.SRID, a.log)

	return views.NewLayerHandler(layers, cfg.HTTP.UploadDir, a.log)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("close redis", zap.Error(err))
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}
