package Transformer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrainArc/LayerSync/Transformer/shptest"
)

func testFields() []shp.Field {
	return []shp.Field{
		shp.NumberField("tunnus", 10),
		shp.StringField("nimi", 40),
		shp.StringField("kunta", 40),
		shp.FloatField("ala_ha", 12, 2),
	}
}

func TestReadShapefile(t *testing.T) {
	dir := t.TempDir()
	path := shptest.Write(t, dir, "kohteet", testFields(), []shptest.Row{
		{Geometry: shptest.Square(0, 0, 100), Values: []interface{}{1, "Alue A", "Jyväskylä", 1.5}},
		{Geometry: shptest.Square(200, 50, 10), Values: []interface{}{2, "Alue B", nil, nil}},
	}, shptest.PrjTM35FIN)

	fc, err := ReadShapefile(path)
	require.NoError(t, err)

	assert.Equal(t, 3067, fc.SRID)
	assert.Equal(t, "ETRS89 / TM35FIN(E,N)", fc.CRS)
	assert.Equal(t, "utf-8", fc.Charset)
	assert.Equal(t, []string{"tunnus", "nimi", "kunta", "ala_ha"}, fc.Columns)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0].Properties
	assert.Equal(t, []string{"tunnus", "nimi", "kunta", "ala_ha"}, first.Keys())
	v, _ := first.Get("tunnus")
	assert.Equal(t, 1.0, v)
	v, _ = first.Get("kunta")
	assert.Equal(t, "Jyväskylä", v)
	v, _ = first.Get("ala_ha")
	assert.InDelta(t, 1.5, v, 1e-9)

	second := fc.Features[1].Properties
	v, ok := second.Get("kunta")
	assert.True(t, ok)
	assert.Nil(t, v)

	mp, ok := fc.Features[0].Geometry.(orb.MultiPolygon)
	require.True(t, ok, "got %T", fc.Features[0].Geometry)
	require.Len(t, mp, 1)
	assert.True(t, orb.Equal(mp[0], shptest.Square(0, 0, 100)))

	b, ok := fc.Bound()
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{210, 100}}, b)
}

func TestReadShapefileWithoutPrj(t *testing.T) {
	dir := t.TempDir()
	path := shptest.Write(t, dir, "plain", testFields(), []shptest.Row{
		{Geometry: shptest.Square(0, 0, 1), Values: []interface{}{1, "a", "b", 2.0}},
	}, "")

	fc, err := ReadShapefile(path)
	require.NoError(t, err)
	assert.Zero(t, fc.SRID)
	assert.Empty(t, fc.PRJ)
}

func TestReadShapefileCPG(t *testing.T) {
	dir := t.TempDir()
	path := shptest.Write(t, dir, "latin", []shp.Field{shp.StringField("nimi", 20)}, []shptest.Row{
		{Geometry: shptest.Square(0, 0, 1), Values: []interface{}{"M\xe4nty"}},
	}, shptest.PrjTM35FIN)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latin.cpg"), []byte("1252\n"), 0o644))

	fc, err := ReadShapefile(path)
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", fc.Charset)
	v, _ := fc.Features[0].Properties.Get("nimi")
	assert.Equal(t, "Mänty", v)
}

func TestReadShapefileMissing(t *testing.T) {
	_, err := ReadShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestPolygonGeometryHoles(t *testing.T) {
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}}
	second := []shp.Point{{X: 20, Y: 0}, {X: 20, Y: 5}, {X: 25, Y: 5}, {X: 25, Y: 0}, {X: 20, Y: 0}}

	var points []shp.Point
	points = append(points, outer...)
	points = append(points, hole...)
	points = append(points, second...)
	parts := []int32{0, 5, 10}

	g := polygonGeometry(points, parts)
	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok)
	require.Len(t, mp, 2)
	assert.Len(t, mp[0], 2)
	assert.Len(t, mp[1], 1)
}

func TestSplitPointsBounds(t *testing.T) {
	points := []shp.Point{{X: 0}, {X: 1}, {X: 2}}
	out := SplitPoints(points, []int32{0, 2, 9})
	require.Len(t, out, 1)
	assert.Len(t, out[0], 2)
}

func TestFindShapefile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "__MACOSX"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__MACOSX", "._a.shp"), nil, 0o644))

	_, err := FindShapefile(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.SHP"), nil, 0o644))
	path, err := FindShapefile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "A.SHP"), path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.shp"), nil, 0o644))
	_, err = FindShapefile(dir)
	assert.Error(t, err)
}

func TestReadShapefileWithoutDBF(t *testing.T) {
	dir := t.TempDir()
	path := shptest.Write(t, dir, "bare", testFields(), []shptest.Row{
		{Geometry: shptest.Square(0, 0, 1), Values: []interface{}{1, "a", "b", 2.0}},
	}, "")
	require.FileExists(t, filepath.Join(dir, "bare.dbf"))
	require.NoError(t, os.Remove(filepath.Join(dir, "bare.dbf")))

	_, err := ReadShapefile(path)
	require.Error(t, err)
	assert.True(t, Error.Has(err))
	assert.Contains(t, err.Error(), ".dbf")
}

func TestLowerExtensions(t *testing.T) {
	dir := t.TempDir()
	path := shptest.Write(t, dir, "Kohteet", testFields(), []shptest.Row{
		{Geometry: shptest.Square(0, 0, 1), Values: []interface{}{7, "a", "b", 2.0}},
	}, shptest.PrjTM35FIN)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		require.NoError(t, os.Rename(filepath.Join(dir, "Kohteet"+ext), filepath.Join(dir, "Kohteet"+strings.ToUpper(ext))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.SHX"), nil, 0o644))

	found, err := FindShapefile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Kohteet.SHP"), found)

	lowered, err := LowerExtensions(found)
	require.NoError(t, err)
	assert.Equal(t, path, lowered)
	assert.FileExists(t, filepath.Join(dir, "other.SHX"))

	fc, err := ReadShapefile(lowered)
	require.NoError(t, err)
	assert.Equal(t, 3067, fc.SRID)
	v, _ := fc.Features[0].Properties.Get("tunnus")
	assert.Equal(t, 7.0, v)
}
