package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GrainArc/LayerSync/geoserver"
	"github.com/GrainArc/LayerSync/metrics"
	"github.com/GrainArc/LayerSync/pgsql"
)

// GeoServer is the part of the GeoServer REST API the publisher drives.
type GeoServer interface {
	CreateFeatureType(ctx context.Context, ft geoserver.FeatureType) error
	DeleteFeatureType(ctx context.Context, name string) (bool, error)
	SetLayerRules(ctx context.Context, rules map[string]string) error
	DeleteLayerRule(ctx context.Context, rule string) (bool, error)
}

type PublisherConfig struct {
	Workspace string
	Store     string
	SRID      int
	// NativeBBox is declared on every feature type instead of computing it.
	NativeBBox    geoserver.CRSBox
	AreaStyle     string
	CentroidStyle string
	// HiddenRoles may always read, visible layers add the public roles.
	HiddenRoles []string
	PublicRoles []string
	EditorRoles []string
}

// ProjectionStatus reports which projections were fully published.
type ProjectionStatus struct {
	Area     bool `json:"area"`
	Centroid bool `json:"centroid"`
}

// DeletionReport tells what a best effort teardown managed to remove.
type DeletionReport struct {
	DBRowsDeleted       int64 `json:"dbRowsDeleted"`
	ViewsDeleted        int   `json:"viewsDeleted"`
	FeatureTypesDeleted int   `json:"featureTypesDeleted"`
	ACLRulesDeleted     int   `json:"aclRulesDeleted"`
	BucketDeleted       bool  `json:"bucketDeleted"`
	BucketQueued        bool  `json:"bucketQueued"`
}

// Succeeded is true when at least one feature type or view was removed.
func (r DeletionReport) Succeeded() bool {
	return r.FeatureTypesDeleted > 0 || r.ViewsDeleted > 0
}

// Publisher keeps the database views, GeoServer feature types and ACL
// rules of a layer's projections in step.
type Publisher struct {
	views pgsql.ViewStore
	gs    GeoServer
	cfg   PublisherConfig
	log   *zap.Logger
}

func NewPublisher(views pgsql.ViewStore, gs GeoServer, cfg PublisherConfig, log *zap.Logger) *Publisher {
	if len(cfg.PublicRoles) == 0 {
		cfg.PublicRoles = []string{"ROLE_AUTHENTICATED", "ROLE_ANONYMOUS"}
	}
	return &Publisher{views: views, gs: gs, cfg: cfg, log: log.Named("publisher")}
}

// Rules builds the read and write ACL rules of both projections.
func (p *Publisher) Rules(layerID uuid.UUID, hidden bool) map[string]string {
	read := p.cfg.HiddenRoles
	if !hidden {
		read = append(append([]string{}, p.cfg.HiddenRoles...), p.cfg.PublicRoles...)
	}
	rules := make(map[string]string, 4)
	for _, proj := range pgsql.Projections {
		view := pgsql.ViewName(layerID, proj)
		rules[geoserver.RuleKey(p.cfg.Workspace, view, geoserver.AccessRead)] = geoserver.JoinRoles(read)
		rules[geoserver.RuleKey(p.cfg.Workspace, view, geoserver.AccessWrite)] = geoserver.JoinRoles(p.cfg.EditorRoles)
	}
	return rules
}

func (p *Publisher) featureType(layerID uuid.UUID, name string, proj pgsql.Projection) geoserver.FeatureType {
	view := pgsql.ViewName(layerID, proj)
	style := p.cfg.AreaStyle
	if proj == pgsql.ProjectionCentroid {
		style = p.cfg.CentroidStyle
	}
	return geoserver.NewFeatureType(p.cfg.Workspace+":"+p.cfg.Store, view,
		fmt.Sprintf("%s - %s", name, view), p.cfg.SRID, p.cfg.NativeBBox, style)
}

// PublishLayer creates both views, registers them in GeoServer and sets
// their ACL rules. When a step fails every step already done in this call
// is undone in reverse order before the error is returned.
func (p *Publisher) PublishLayer(ctx context.Context, layerID uuid.UUID, name string, hidden bool) (ProjectionStatus, error) {
	log := p.log.With(zap.Stringer("layer", layerID))

	var undo []func(ctx context.Context)
	fail := func(step string, err error) (ProjectionStatus, error) {
		log.Error("publish failed, compensating", zap.String("step", step), zap.Error(err))
		metrics.PublishCompensationsTotal.Inc()
		cctx := context.WithoutCancel(ctx)
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](cctx)
		}
		return ProjectionStatus{}, ErrPublish.Wrap(fmt.Errorf("%s: %w", step, err))
	}

	for _, proj := range pgsql.Projections {
		proj := proj
		if err := p.views.CreateView(ctx, layerID, proj); err != nil {
			return fail("create "+string(proj)+" view", err)
		}
		undo = append(undo, func(ctx context.Context) {
			if err := p.views.DropView(ctx, layerID, proj); err != nil {
				log.Warn("compensation: drop view", zap.String("projection", string(proj)), zap.Error(err))
			}
		})
	}

	for _, proj := range pgsql.Projections {
		ft := p.featureType(layerID, name, proj)
		if err := p.gs.CreateFeatureType(ctx, ft); err != nil {
			return fail("register "+string(proj)+" feature type", err)
		}
		undo = append(undo, func(ctx context.Context) {
			if _, err := p.gs.DeleteFeatureType(ctx, ft.Name); err != nil {
				log.Warn("compensation: delete feature type", zap.String("featureType", ft.Name), zap.Error(err))
			}
		})
	}

	if err := p.gs.SetLayerRules(ctx, p.Rules(layerID, hidden)); err != nil {
		return fail("set acl rules", err)
	}

	log.Info("layer published", zap.String("name", name), zap.Bool("hidden", hidden))
	return ProjectionStatus{Area: true, Centroid: true}, nil
}

// UnpublishLayer removes feature types, ACL rules and views. Every step is
// attempted whatever happened before it.
func (p *Publisher) UnpublishLayer(ctx context.Context, layerID uuid.UUID) DeletionReport {
	log := p.log.With(zap.Stringer("layer", layerID))
	var report DeletionReport

	for _, proj := range pgsql.Projections {
		view := pgsql.ViewName(layerID, proj)
		deleted, err := p.gs.DeleteFeatureType(ctx, view)
		switch {
		case err != nil:
			log.Warn("delete feature type", zap.String("featureType", view), zap.Error(err))
		case deleted:
			report.FeatureTypesDeleted++
		default:
			log.Info("feature type already gone", zap.String("featureType", view))
		}
	}

	for _, proj := range pgsql.Projections {
		view := pgsql.ViewName(layerID, proj)
		for _, mode := range []string{geoserver.AccessRead, geoserver.AccessWrite} {
			rule := geoserver.RuleKey(p.cfg.Workspace, view, mode)
			deleted, err := p.gs.DeleteLayerRule(ctx, rule)
			if err != nil {
				log.Warn("delete acl rule", zap.String("rule", rule), zap.Error(err))
				continue
			}
			if deleted {
				report.ACLRulesDeleted++
			}
		}
	}

	for _, proj := range pgsql.Projections {
		if err := p.views.DropView(ctx, layerID, proj); err != nil {
			log.Warn("drop view", zap.String("projection", string(proj)), zap.Error(err))
			continue
		}
		report.ViewsDeleted++
	}

	log.Info("layer unpublished",
		zap.Int("featureTypes", report.FeatureTypesDeleted),
		zap.Int("aclRules", report.ACLRulesDeleted),
		zap.Int("views", report.ViewsDeleted))
	return report
}

// SetVisibility rewrites the ACL rules of both projections.
func (p *Publisher) SetVisibility(ctx context.Context, layerID uuid.UUID, hidden bool) error {
	if err := p.gs.SetLayerRules(ctx, p.Rules(layerID, hidden)); err != nil {
		return ErrPublish.New("set visibility: %v", err)
	}
	p.log.Info("visibility changed", zap.Stringer("layer", layerID), zap.Bool("hidden", hidden))
	return nil
}
