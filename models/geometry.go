package models

import (
	"context"
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Geometry is a PostGIS geometry column backed by an orb geometry.
// Writes go through ST_GeomFromWKB so the SRID is always set explicitly,
// reads accept the hex EWKB that PostGIS returns for geometry columns.
type Geometry struct {
	orb.Geometry
	SRID int
}

func NewGeometry(g orb.Geometry, srid int) Geometry {
	return Geometry{Geometry: g, SRID: srid}
}

func (Geometry) GormDataType() string {
	return "geometry"
}

func (g Geometry) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	if g.Geometry == nil {
		return clause.Expr{SQL: "NULL"}
	}
	data, err := wkb.Marshal(g.Geometry)
	if err != nil {
		_ = db.AddError(fmt.Errorf("marshal geometry: %w", err))
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{
		SQL:  "ST_Force2D(ST_SetSRID(ST_GeomFromWKB(?), ?))",
		Vars: []interface{}{data, g.SRID},
	}
}

// Value is used by drivers that bypass GormValue (raw Exec with a Geometry argument).
func (g Geometry) Value() (driver.Value, error) {
	if g.Geometry == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g.Geometry, g.SRID)
	if err != nil {
		return nil, err
	}
	return hex.EncodeToString(data), nil
}

func (g *Geometry) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		g.Geometry, g.SRID = nil, 0
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported geometry value %T", value)
	}
	if len(raw) == 0 {
		g.Geometry, g.SRID = nil, 0
		return nil
	}

	// PostGIS text output is hex EWKB; binary output is raw EWKB.
	if isHex(raw) {
		decoded := make([]byte, hex.DecodedLen(len(raw)))
		if _, err := hex.Decode(decoded, raw); err != nil {
			return fmt.Errorf("decode geometry hex: %w", err)
		}
		raw = decoded
	}

	geom, srid, err := ewkb.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}
	g.Geometry, g.SRID = geom, srid
	return nil
}

func (g Geometry) IsEmpty() bool {
	return pointCount(g.Geometry) == 0
}

// Extent returns the geometry bound in the geometry's SRID, nil for empty geometries.
func (g Geometry) Extent() *BoundingBox {
	if g.IsEmpty() {
		return nil
	}
	return FromBound(g.Geometry.Bound(), g.SRID)
}

func isHex(b []byte) bool {
	if len(b)%2 != 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func pointCount(g orb.Geometry) int {
	switch geom := g.(type) {
	case nil:
		return 0
	case orb.Point:
		return 1
	case orb.MultiPoint:
		return len(geom)
	case orb.LineString:
		return len(geom)
	case orb.Ring:
		return len(geom)
	case orb.MultiLineString:
		n := 0
		for _, ls := range geom {
			n += len(ls)
		}
		return n
	case orb.Polygon:
		n := 0
		for _, r := range geom {
			n += len(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range geom {
			n += pointCount(p)
		}
		return n
	case orb.Collection:
		n := 0
		for _, c := range geom {
			n += pointCount(c)
		}
		return n
	case orb.Bound:
		if geom.IsEmpty() {
			return 0
		}
		return 2
	}
	return 0
}
