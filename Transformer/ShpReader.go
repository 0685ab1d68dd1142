package Transformer

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/zeebo/errs"

	"github.com/GrainArc/LayerSync/methods"
	"github.com/GrainArc/LayerSync/models"
)

// Error is the class of every failure reading source data.
var Error = errs.Class("transformer")

// Feature is one shapefile record. Geometry is nil for null shapes.
type Feature struct {
	Index      int
	Geometry   orb.Geometry
	Properties *models.Properties
}

// FeatureCollection is the decoded content of one shapefile.
type FeatureCollection struct {
	Features []Feature
	Columns  []string
	// SRID is 0 when the .prj could not be mapped to an EPSG code.
	SRID int
	// CRS is the coordinate system name declared in the .prj.
	CRS string
	// PRJ is the raw .prj text.
	PRJ     string
	Charset string
}

// Bound returns the extent of every non empty geometry.
func (fc *FeatureCollection) Bound() (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

type rawRecord struct {
	index  int
	geom   orb.Geometry
	values [][]byte
}

// ReadShapefile reads geometries and typed attributes from a .shp file and
// its .dbf/.prj/.cpg siblings. Z and M values are dropped.
func ReadShapefile(path string) (*FeatureCollection, error) {
	if _, err := os.Stat(siblingPath(path, ".dbf")); err != nil {
		return nil, Error.New("%s has no .dbf attribute table", filepath.Base(path))
	}
	reader, err := shp.Open(path)
	if err != nil {
		return nil, Error.New("open %s: %v", filepath.Base(path), err)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()

	var (
		records []rawRecord
		sample  bytes.Buffer
	)
	for reader.Next() {
		n, shape := reader.Shape()
		rec := rawRecord{index: n, geom: shapeGeometry(shape), values: make([][]byte, len(fields))}
		for k := range fields {
			v := []byte(reader.ReadAttribute(n, k))
			rec.values[k] = v
			if sample.Len() < 64*1024 {
				sample.Write(v)
				sample.WriteByte(' ')
			}
		}
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, Error.New("read %s: %v", filepath.Base(path), err)
	}

	// the .cpg wins over detection when present
	charset := readCPGEncoding(path)
	if charset == "" {
		var names bytes.Buffer
		for _, f := range fields {
			names.WriteString(f.String())
			names.WriteByte(' ')
		}
		charset = methods.DetectCharset(append(names.Bytes(), sample.Bytes()...))
	}

	fc := &FeatureCollection{Charset: charset}
	for _, f := range fields {
		name, err := methods.DecodeBytes([]byte(f.String()), charset)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		fc.Columns = append(fc.Columns, name)
	}

	for _, rec := range records {
		props := models.NewProperties()
		for k, f := range fields {
			v, err := attributeValue(f, rec.values[k], charset)
			if err != nil {
				return nil, Error.New("record %d field %s: %v", rec.index, fc.Columns[k], err)
			}
			props.Set(fc.Columns[k], v)
		}
		fc.Features = append(fc.Features, Feature{Index: rec.index, Geometry: rec.geom, Properties: props})
	}

	prj, err := os.ReadFile(siblingPath(path, ".prj"))
	if err == nil {
		fc.PRJ = strings.TrimSpace(string(prj))
		fc.SRID, fc.CRS = DetectSRID(fc.PRJ)
	}
	return fc, nil
}

// attributeValue types a raw DBF value by its field type. Blank values are nil.
func attributeValue(f shp.Field, raw []byte, charset string) (interface{}, error) {
	raw = bytes.Trim(raw, " \x00")
	if len(raw) == 0 {
		return nil, nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		s := strings.ReplaceAll(string(raw), ",", ".")
		if strings.Trim(s, "*") == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, nil
		}
		return v, nil
	case 'L':
		switch raw[0] {
		case 'T', 't', 'Y', 'y':
			return true, nil
		case 'F', 'f', 'N', 'n':
			return false, nil
		}
		return nil, nil
	case 'D':
		s := string(raw)
		if len(s) == 8 {
			return s[:4] + "-" + s[4:6] + "-" + s[6:], nil
		}
		return s, nil
	}
	return methods.DecodeBytes(raw, charset)
}

// readCPGEncoding returns the charset declared by the .cpg sibling, or ""
// when there is none.
func readCPGEncoding(shpPath string) string {
	content, err := os.ReadFile(siblingPath(shpPath, ".cpg"))
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(content))
	if name == "" {
		return ""
	}
	return methods.NormalizeCharset(name)
}

func siblingPath(path, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return base + ext
}

func shapeGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.MultiPointM:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return lineGeometry(s.Points, s.Parts)
	case *shp.PolyLineZ:
		return lineGeometry(s.Points, s.Parts)
	case *shp.PolyLineM:
		return lineGeometry(s.Points, s.Parts)
	case *shp.Polygon:
		return polygonGeometry(s.Points, s.Parts)
	case *shp.PolygonZ:
		return polygonGeometry(s.Points, s.Parts)
	case *shp.PolygonM:
		return polygonGeometry(s.Points, s.Parts)
	}
	return nil
}

func multiPoint(points []shp.Point) orb.Geometry {
	if len(points) == 0 {
		return nil
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func lineGeometry(points []shp.Point, parts []int32) orb.Geometry {
	var mls orb.MultiLineString
	for _, part := range SplitPoints(points, parts) {
		if len(part) < 2 {
			continue
		}
		mls = append(mls, orb.LineString(toOrb(part)))
	}
	switch len(mls) {
	case 0:
		return nil
	case 1:
		return mls[0]
	}
	return mls
}

// polygonGeometry groups rings into polygons. Shapefile outer rings are
// clockwise and each one opens a new polygon; the holes that follow belong
// to it.
func polygonGeometry(points []shp.Point, parts []int32) orb.Geometry {
	var (
		mp      orb.MultiPolygon
		current orb.Polygon
	)
	for _, part := range SplitPoints(points, parts) {
		if len(part) < 4 {
			continue
		}
		ring := orb.Ring(toOrb(part))
		if IsClockwise(ring) || current == nil {
			if current != nil {
				mp = append(mp, current)
			}
			current = orb.Polygon{ring}
			continue
		}
		current = append(current, ring)
	}
	if current != nil {
		mp = append(mp, current)
	}
	if len(mp) == 0 {
		return nil
	}
	return mp
}

func toOrb(points []shp.Point) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, p := range points {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

func SplitPoints(points []shp.Point, parts []int32) [][]shp.Point {
	var out [][]shp.Point
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start > end {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

// IsClockwise uses the shoelace sum; a positive sum is clockwise.
func IsClockwise(points []orb.Point) bool {
	sum := 0.0
	for i := 0; i < len(points)-1; i++ {
		p1, p2 := points[i], points[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}
