package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/GrainArc/LayerSync/geoserver"
	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/pgsql"
)

// memStore is an in-memory AreaStore. Transactions snapshot the whole
// store and restore it when fn fails.
type memStore struct {
	layers   map[uuid.UUID]*models.Layer
	areas    map[uuid.UUID]*models.Area
	order    []uuid.UUID
	pictures []*models.Picture
	indexed  map[uuid.UUID]bool
	dropped  []uuid.UUID

	failCreateAreas error
	saves           int
}

func newMemStore() *memStore {
	return &memStore{
		layers:  make(map[uuid.UUID]*models.Layer),
		areas:   make(map[uuid.UUID]*models.Area),
		indexed: make(map[uuid.UUID]bool),
	}
}

func copyArea(a *models.Area) *models.Area {
	c := *a
	c.OriginalProperties = *a.OriginalProperties.Clone()
	return &c
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx pgsql.AreaStore) error) error {
	layers := make(map[uuid.UUID]*models.Layer, len(s.layers))
	for id, l := range s.layers {
		c := *l
		layers[id] = &c
	}
	areas := make(map[uuid.UUID]*models.Area, len(s.areas))
	for id, a := range s.areas {
		areas[id] = copyArea(a)
	}
	order := append([]uuid.UUID(nil), s.order...)
	pictures := append([]*models.Picture(nil), s.pictures...)
	indexed := make(map[uuid.UUID]bool, len(s.indexed))
	for id, v := range s.indexed {
		indexed[id] = v
	}

	if err := fn(s); err != nil {
		s.layers, s.areas, s.order, s.pictures, s.indexed = layers, areas, order, pictures, indexed
		return err
	}
	return nil
}

func (s *memStore) CreateLayer(ctx context.Context, layer *models.Layer) error {
	if layer.ID == uuid.Nil {
		layer.ID = uuid.New()
	}
	c := *layer
	s.layers[layer.ID] = &c
	return nil
}

func (s *memStore) GetLayer(ctx context.Context, id uuid.UUID) (*models.Layer, error) {
	l, ok := s.layers[id]
	if !ok {
		return nil, pgsql.ErrNotFound.New("layer %s", id)
	}
	c := *l
	return &c, nil
}

func (s *memStore) UpdateLayer(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	l, ok := s.layers[id]
	if !ok {
		return pgsql.ErrNotFound.New("layer %s", id)
	}
	if v, ok := updates["is_hidden"].(bool); ok {
		l.IsHidden = v
	}
	if v, ok := updates["name"].(string); ok {
		l.Name = v
	}
	return nil
}

func (s *memStore) DeleteLayer(ctx context.Context, id uuid.UUID) (int64, error) {
	if _, ok := s.layers[id]; !ok {
		return 0, nil
	}
	delete(s.layers, id)
	var kept []uuid.UUID
	for _, aid := range s.order {
		if s.areas[aid].LayerID == id {
			delete(s.areas, aid)
			continue
		}
		kept = append(kept, aid)
	}
	s.order = kept
	return 1, nil
}

func (s *memStore) EnsureIndexes(ctx context.Context, layer *models.Layer) error {
	s.indexed[layer.ID] = true
	return nil
}

func (s *memStore) DropIndexes(ctx context.Context, layer *models.Layer) {
	delete(s.indexed, layer.ID)
	s.dropped = append(s.dropped, layer.ID)
}

func (s *memStore) ListAreas(ctx context.Context, layerID uuid.UUID) ([]*models.Area, error) {
	var out []*models.Area
	for _, id := range s.order {
		if a := s.areas[id]; a.LayerID == layerID {
			out = append(out, copyArea(a))
		}
	}
	return out, nil
}

func (s *memStore) GetArea(ctx context.Context, id uuid.UUID) (*models.Area, error) {
	a, ok := s.areas[id]
	if !ok {
		return nil, pgsql.ErrNotFound.New("area %s", id)
	}
	return copyArea(a), nil
}

func (s *memStore) CreateAreas(ctx context.Context, areas []*models.Area) error {
	if s.failCreateAreas != nil {
		return s.failCreateAreas
	}
	for _, a := range areas {
		s.areas[a.ID] = copyArea(a)
		s.order = append(s.order, a.ID)
	}
	return nil
}

func (s *memStore) SaveArea(ctx context.Context, area *models.Area) error {
	if _, ok := s.areas[area.ID]; !ok {
		s.order = append(s.order, area.ID)
	}
	s.areas[area.ID] = copyArea(area)
	s.saves++
	return nil
}

func (s *memStore) DeleteAreas(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var n int64
	remove := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.areas[id]; ok {
			remove[id] = true
			delete(s.areas, id)
			n++
		}
	}
	var kept []uuid.UUID
	for _, id := range s.order {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return n, nil
}

func (s *memStore) CreatePicture(ctx context.Context, picture *models.Picture) error {
	s.pictures = append(s.pictures, picture)
	return nil
}

func (s *memStore) layerAreas(layerID uuid.UUID) []*models.Area {
	areas, _ := s.ListAreas(context.Background(), layerID)
	return areas
}

// identityReprojector leaves coordinates untouched and records the moves.
type identityReprojector struct {
	resolve int
	calls   [][2]int
}

func (r *identityReprojector) Reproject(ctx context.Context, geoms []orb.Geometry, fromSRID, toSRID int) ([]orb.Geometry, error) {
	r.calls = append(r.calls, [2]int{fromSRID, toSRID})
	return geoms, nil
}

func (r *identityReprojector) TransformBBox(ctx context.Context, box *models.BoundingBox, toSRID int) (*models.BoundingBox, error) {
	c := *box
	c.SRID = toSRID
	return &c, nil
}

func (r *identityReprojector) ResolveSRID(ctx context.Context, prj string) (int, error) {
	return r.resolve, nil
}

type fakeViews struct {
	created   []string
	dropped   []string
	failOn    pgsql.Projection
	failDrops bool
}

func (v *fakeViews) CreateView(ctx context.Context, layerID uuid.UUID, p pgsql.Projection) error {
	if p == v.failOn {
		return errors.New("permission denied")
	}
	v.created = append(v.created, pgsql.ViewName(layerID, p))
	return nil
}

func (v *fakeViews) DropView(ctx context.Context, layerID uuid.UUID, p pgsql.Projection) error {
	if v.failDrops {
		return errors.New("connection reset")
	}
	v.dropped = append(v.dropped, pgsql.ViewName(layerID, p))
	return nil
}

type fakeGeoServer struct {
	featureTypes map[string]geoserver.FeatureType
	rules        map[string]string

	createErr   map[string]error
	deleteErr   error
	rulesErr    error
	deletedFTs  []string
	ruleUpdates int
}

func newFakeGeoServer() *fakeGeoServer {
	return &fakeGeoServer{
		featureTypes: make(map[string]geoserver.FeatureType),
		rules:        make(map[string]string),
		createErr:    make(map[string]error),
	}
}

func (g *fakeGeoServer) CreateFeatureType(ctx context.Context, ft geoserver.FeatureType) error {
	if err := g.createErr[ft.Name]; err != nil {
		return err
	}
	g.featureTypes[ft.Name] = ft
	return nil
}

func (g *fakeGeoServer) DeleteFeatureType(ctx context.Context, name string) (bool, error) {
	if g.deleteErr != nil {
		return false, g.deleteErr
	}
	g.deletedFTs = append(g.deletedFTs, name)
	if _, ok := g.featureTypes[name]; !ok {
		return false, nil
	}
	delete(g.featureTypes, name)
	return true, nil
}

func (g *fakeGeoServer) SetLayerRules(ctx context.Context, rules map[string]string) error {
	if g.rulesErr != nil {
		return g.rulesErr
	}
	g.ruleUpdates++
	for k, v := range rules {
		g.rules[k] = v
	}
	return nil
}

func (g *fakeGeoServer) DeleteLayerRule(ctx context.Context, rule string) (bool, error) {
	if _, ok := g.rules[rule]; !ok {
		return false, nil
	}
	delete(g.rules, rule)
	return true, nil
}

type fakeTiles struct {
	mu       sync.Mutex
	bboxes   []*models.BoundingBox
	features [][]uuid.UUID
	layers   []uuid.UUID
}

func (f *fakeTiles) InvalidateBBox(ctx context.Context, layerID uuid.UUID, bbox *models.BoundingBox) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bboxes = append(f.bboxes, bbox)
}

func (f *fakeTiles) InvalidateFeatures(ctx context.Context, layerID uuid.UUID, areaIDs []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.features = append(f.features, areaIDs)
}

func (f *fakeTiles) InvalidateLayer(ctx context.Context, layerID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layers = append(f.layers, layerID)
}

type fakePictures struct {
	deleteErr error
	deleted   []string
	uploaded  []string
}

func (p *fakePictures) BucketName(layerID uuid.UUID) string {
	return "layersync-" + layerID.String()
}

func (p *fakePictures) UploadPicture(ctx context.Context, layerID, areaID, pictureID uuid.UUID,
	filename, contentType string, body io.ReadSeeker, size int64) (string, error) {
	object := p.BucketName(layerID) + "/" + areaID.String() + "/" + pictureID.String() + ".jpg"
	p.uploaded = append(p.uploaded, object)
	return "http://objects.test/" + object, nil
}

func (p *fakePictures) DeleteBucket(ctx context.Context, bucket string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, bucket)
	return nil
}

type fakeQueue struct {
	queued []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, bucket string) error {
	q.queued = append(q.queued, bucket)
	return nil
}
