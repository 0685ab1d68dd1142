package models

import (
	"encoding/hex"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x, y + size}, {x + size, y + size}, {x + size, y}, {x, y},
	}}
}

func TestGeometryScanHexEWKB(t *testing.T) {
	poly := square(10, 20, 5)
	data, err := ewkb.Marshal(poly, 3067)
	require.NoError(t, err)

	var g Geometry
	require.NoError(t, g.Scan(hex.EncodeToString(data)))
	assert.Equal(t, 3067, g.SRID)
	assert.Equal(t, poly, g.Geometry)

	var raw Geometry
	require.NoError(t, raw.Scan(data))
	assert.Equal(t, poly, raw.Geometry)
}

func TestGeometryValueRoundTrip(t *testing.T) {
	g := NewGeometry(orb.MultiPolygon{square(0, 0, 1)}, 4326)
	v, err := g.Value()
	require.NoError(t, err)

	var back Geometry
	require.NoError(t, back.Scan(v))
	assert.Equal(t, g, back)
}

func TestGeometryEmptyAndExtent(t *testing.T) {
	assert.True(t, Geometry{}.IsEmpty())
	assert.True(t, NewGeometry(orb.MultiPolygon{}, 3067).IsEmpty())
	assert.Nil(t, Geometry{}.Extent())

	box := NewGeometry(square(1, 2, 3), 3067).Extent()
	require.NotNil(t, box)
	assert.Equal(t, BoundingBox{MinX: 1, MinY: 2, MaxX: 4, MaxY: 5, SRID: 3067}, *box)
}

func TestBoundingBoxUnion(t *testing.T) {
	a := &BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1, SRID: 3067}
	b := &BoundingBox{MinX: 2, MinY: -1, MaxX: 3, MaxY: 0.5, SRID: 3067}

	u := a.Union(b)
	assert.Equal(t, &BoundingBox{MinX: 0, MinY: -1, MaxX: 3, MaxY: 1, SRID: 3067}, u)

	var none *BoundingBox
	assert.Nil(t, none.Union(nil))
	assert.Equal(t, a, none.Union(a))
	assert.NotSame(t, a, none.Union(a))

	c := &BoundingBox{MinX: 1, MinY: 1, MaxX: 1, MaxY: 1}
	c.Extend(orb.Point{-2, 4})
	assert.Equal(t, &BoundingBox{MinX: -2, MinY: 1, MaxX: 1, MaxY: 4}, c)
}
