package tilecache

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GrainArc/LayerSync/geoserver"
	"github.com/GrainArc/LayerSync/models"
	"github.com/GrainArc/LayerSync/pgsql"
)

type truncateCall struct {
	layer  string
	bounds geoserver.SeedBounds
}

type fakeTruncater struct {
	calls []truncateCall
	fail  map[string]bool
}

func (f *fakeTruncater) Truncate(ctx context.Context, layer string, bounds geoserver.SeedBounds, opts geoserver.TruncateOptions) error {
	f.calls = append(f.calls, truncateCall{layer: layer, bounds: bounds})
	if f.fail[layer] {
		return errors.New("gwc down")
	}
	return nil
}

type fakeExtents struct {
	areas *models.BoundingBox
	layer *models.BoundingBox
	err   error
	ids   []uuid.UUID
}

func (f *fakeExtents) AreasExtent(ctx context.Context, layerID uuid.UUID, ids []uuid.UUID) (*models.BoundingBox, error) {
	f.ids = ids
	return f.areas, f.err
}

func (f *fakeExtents) LayerExtent(ctx context.Context, layerID uuid.UUID) (*models.BoundingBox, error) {
	return f.layer, f.err
}

type fakeReprojector struct {
	boxes []*models.BoundingBox
}

func (f *fakeReprojector) Reproject(ctx context.Context, geoms []orb.Geometry, from, to int) ([]orb.Geometry, error) {
	return geoms, nil
}

func (f *fakeReprojector) TransformBBox(ctx context.Context, box *models.BoundingBox, to int) (*models.BoundingBox, error) {
	f.boxes = append(f.boxes, box)
	return &models.BoundingBox{MinX: box.MinX + 1, MinY: box.MinY + 1, MaxX: box.MaxX + 1, MaxY: box.MaxY + 1, SRID: to}, nil
}

func (f *fakeReprojector) ResolveSRID(ctx context.Context, prj string) (int, error) { return 0, nil }

var layerID = uuid.MustParse("0b4f0c4e-33a1-4b7a-9d0c-2f5a0c7e1d11")

func newInvalidator(gridSRID int) (*Invalidator, *fakeTruncater, *fakeExtents, *fakeReprojector) {
	gwc := &fakeTruncater{fail: map[string]bool{}}
	ext := &fakeExtents{}
	rp := &fakeReprojector{}
	opts := geoserver.TruncateOptions{GridSRID: gridSRID, GridSetID: "grid", Format: "image/png", ZoomStop: 15}
	return NewInvalidator(gwc, ext, rp, opts, zap.NewNop()), gwc, ext, rp
}

func TestInvalidateBBoxBothProjections(t *testing.T) {
	inv, gwc, _, rp := newInvalidator(3067)

	inv.InvalidateBBox(context.Background(), layerID, &models.BoundingBox{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, SRID: 3067})

	require.Len(t, gwc.calls, 2)
	assert.Equal(t, pgsql.ViewName(layerID, pgsql.ProjectionArea), gwc.calls[0].layer)
	assert.Equal(t, pgsql.ViewName(layerID, pgsql.ProjectionCentroid), gwc.calls[1].layer)
	assert.Equal(t, geoserver.SeedBounds{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}, gwc.calls[0].bounds)
	assert.Empty(t, rp.boxes)
}

func TestInvalidateBBoxMercator(t *testing.T) {
	inv, gwc, _, rp := newInvalidator(3857)

	inv.InvalidateBBox(context.Background(), layerID, &models.BoundingBox{MinX: 0, MinY: 0, MaxX: 180, MaxY: 90, SRID: 4326})

	require.Len(t, gwc.calls, 2)
	b := gwc.calls[0].bounds
	assert.InDelta(t, 0, b.MinX, 1e-6)
	assert.InDelta(t, 0, b.MinY, 1e-6)
	assert.InDelta(t, 20037508.342789244, b.MaxX, 1e-3)
	assert.InDelta(t, 20037508.342789244, b.MaxY, 1)
	assert.Empty(t, rp.boxes)
}

func TestInvalidateBBoxUsesReprojector(t *testing.T) {
	inv, gwc, _, rp := newInvalidator(3857)

	inv.InvalidateBBox(context.Background(), layerID, &models.BoundingBox{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2, SRID: 3067})

	require.Len(t, rp.boxes, 1)
	require.Len(t, gwc.calls, 2)
	assert.Equal(t, 2.0, gwc.calls[0].bounds.MinX)
}

func TestInvalidateSkipsEmpty(t *testing.T) {
	inv, gwc, ext, _ := newInvalidator(3067)

	inv.InvalidateBBox(context.Background(), layerID, nil)
	inv.InvalidateLayer(context.Background(), layerID)
	ext.err = errors.New("db down")
	inv.InvalidateFeatures(context.Background(), layerID, []uuid.UUID{uuid.New()})

	assert.Empty(t, gwc.calls)
}

func TestInvalidateFailureContinues(t *testing.T) {
	inv, gwc, ext, _ := newInvalidator(3067)
	gwc.fail[pgsql.ViewName(layerID, pgsql.ProjectionArea)] = true
	ext.areas = &models.BoundingBox{MinX: 1, MinY: 1, MaxX: 5, MaxY: 5, SRID: 3067}

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	inv.InvalidateFeatures(context.Background(), layerID, ids)

	assert.Equal(t, ids, ext.ids)
	assert.Len(t, gwc.calls, 2)
}

func TestMercatorRoundTrip(t *testing.T) {
	x, y := lonLatToMercator(25.7, 62.2)
	lon, lat := mercatorToLonLat(x, y)
	assert.InDelta(t, 25.7, lon, 1e-9)
	assert.InDelta(t, 62.2, lat, 1e-9)
}
