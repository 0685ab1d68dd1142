// Package shptest writes small shapefile archives for tests.
package shptest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// PrjTM35FIN is the EPSG flavoured WKT of ETRS89 / TM35FIN(E,N).
const PrjTM35FIN = `PROJCS["ETRS89 / TM35FIN(E,N)",GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6258"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4258"]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",27],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","3067"]]`

// Row is one feature. Values line up with the fields passed to Write; a nil
// value leaves the cell blank.
type Row struct {
	Geometry orb.Polygon
	Values   []interface{}
}

// Square returns a clockwise square polygon.
func Square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x, y + size}, {x + size, y + size}, {x + size, y}, {x, y},
	}}
}

// Write creates name.shp (with .shx, .dbf and, when prj is set, .prj) in dir.
func Write(t testing.TB, dir, name string, fields []shp.Field, rows []Row, prj string) string {
	t.Helper()

	path := filepath.Join(dir, name+".shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))

	for _, row := range rows {
		var parts [][]shp.Point
		for _, ring := range row.Geometry {
			var pts []shp.Point
			for _, p := range ring {
				pts = append(pts, shp.Point{X: p[0], Y: p[1]})
			}
			parts = append(parts, pts)
		}
		n := int(w.Write((*shp.Polygon)(shp.NewPolyLine(parts))))
		for k, v := range row.Values {
			if v == nil {
				continue
			}
			require.NoError(t, w.WriteAttribute(n, k, v))
		}
	}
	w.Close()

	// go-shp names the attribute file "<base>dbf"
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))

	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".prj"), []byte(prj), 0o644))
	}
	return path
}

// Zip packs the shapefile at shpPath and all its siblings into archive.
func Zip(t testing.TB, shpPath, archive string) string {
	t.Helper()

	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	var sources []string
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj", ".cpg"} {
		if _, err := os.Stat(base + ext); err == nil {
			sources = append(sources, base+ext)
		}
	}
	require.NoError(t, archiver.Archive(sources, archive))
	return archive
}
