package Transformer

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"gorm.io/gorm"

	"github.com/GrainArc/LayerSync/models"
)

// Reprojector moves geometries and boxes between coordinate systems.
type Reprojector interface {
	Reproject(ctx context.Context, geoms []orb.Geometry, fromSRID, toSRID int) ([]orb.Geometry, error)
	TransformBBox(ctx context.Context, box *models.BoundingBox, toSRID int) (*models.BoundingBox, error)
	// ResolveSRID looks a .prj text up in the coordinate system catalogue.
	// It returns 0 without error when nothing matches.
	ResolveSRID(ctx context.Context, prj string) (int, error)
}

// PostGISReprojector delegates every transformation to ST_Transform.
type PostGISReprojector struct {
	db        *gorm.DB
	batchSize int
}

func NewPostGISReprojector(db *gorm.DB) *PostGISReprojector {
	return &PostGISReprojector{db: db, batchSize: 500}
}

type transformedRow struct {
	Ord  int64
	Geom []byte
}

func (r *PostGISReprojector) Reproject(ctx context.Context, geoms []orb.Geometry, fromSRID, toSRID int) ([]orb.Geometry, error) {
	out := make([]orb.Geometry, len(geoms))
	if fromSRID == toSRID {
		copy(out, geoms)
		return out, nil
	}

	const query = `SELECT t.ord AS ord, ST_AsBinary(ST_Force2D(ST_Transform(ST_SetSRID(ST_GeomFromWKB(t.g), ?), ?))) AS geom
		FROM unnest(?::bytea[]) WITH ORDINALITY AS t(g, ord)
		ORDER BY t.ord`

	for start := 0; start < len(geoms); start += r.batchSize {
		end := start + r.batchSize
		if end > len(geoms) {
			end = len(geoms)
		}

		// null geometries are passed through so ordinals stay aligned
		batch := make(pq.ByteaArray, end-start)
		for i, g := range geoms[start:end] {
			if g == nil {
				continue
			}
			data, err := wkb.Marshal(g)
			if err != nil {
				return nil, Error.New("encode geometry %d: %v", start+i, err)
			}
			batch[i] = data
		}

		var rows []transformedRow
		if err := r.db.WithContext(ctx).Raw(query, fromSRID, toSRID, batch).Scan(&rows).Error; err != nil {
			return nil, Error.New("transform %d -> %d: %v", fromSRID, toSRID, err)
		}
		for _, row := range rows {
			if len(row.Geom) == 0 {
				continue
			}
			g, err := wkb.Unmarshal(row.Geom)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			out[start+int(row.Ord)-1] = g
		}
	}
	return out, nil
}

type extentRow struct {
	MinX, MinY, MaxX, MaxY *float64
}

func (r *PostGISReprojector) TransformBBox(ctx context.Context, box *models.BoundingBox, toSRID int) (*models.BoundingBox, error) {
	if box.IsEmpty() {
		return nil, nil
	}
	if box.SRID == toSRID {
		c := *box
		return &c, nil
	}
	var row extentRow
	err := r.db.WithContext(ctx).Raw(`SELECT ST_XMin(e) AS min_x, ST_YMin(e) AS min_y, ST_XMax(e) AS max_x, ST_YMax(e) AS max_y
		FROM (SELECT ST_Transform(ST_MakeEnvelope(?, ?, ?, ?, ?), ?) AS e) t`,
		box.MinX, box.MinY, box.MaxX, box.MaxY, box.SRID, toSRID).Scan(&row).Error
	if err != nil {
		return nil, Error.New("transform bbox %d -> %d: %v", box.SRID, toSRID, err)
	}
	if row.MinX == nil || row.MinY == nil || row.MaxX == nil || row.MaxY == nil {
		return nil, nil
	}
	return &models.BoundingBox{MinX: *row.MinX, MinY: *row.MinY, MaxX: *row.MaxX, MaxY: *row.MaxY, SRID: toSRID}, nil
}

func (r *PostGISReprojector) ResolveSRID(ctx context.Context, prj string) (int, error) {
	_, name := DetectSRID(prj)
	if name == "" {
		return 0, nil
	}
	var refs []models.SpatialRefSys
	pattern := fmt.Sprintf(`%%CS["%s"%%`, escapeLike(name))
	err := r.db.WithContext(ctx).
		Where("srtext = ?", prj).
		Or("srtext LIKE ?", pattern).
		Order("srid").
		Limit(1).
		Find(&refs).Error
	if err != nil {
		return 0, Error.New("resolve srid for %q: %v", name, err)
	}
	if len(refs) == 0 {
		return 0, nil
	}
	return refs[0].EPSG(), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FallbackAreaHa is the planar area in hectares, for geometries in a metric
// projected system.
func FallbackAreaHa(g orb.Geometry) float64 {
	if g == nil {
		return 0
	}
	return math.Abs(planar.Area(g)) / 10000
}
