package models

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// BoundingBox is an axis aligned extent in a known SRID.
type BoundingBox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
	SRID int     `json:"srid"`
}

func FromBound(b orb.Bound, srid int) *BoundingBox {
	return &BoundingBox{
		MinX: b.Min[0],
		MinY: b.Min[1],
		MaxX: b.Max[0],
		MaxY: b.Max[1],
		SRID: srid,
	}
}

func (b *BoundingBox) IsEmpty() bool {
	return b == nil || b.MinX > b.MaxX || b.MinY > b.MaxY
}

func (b *BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// Extend grows b in place to cover p.
func (b *BoundingBox) Extend(p orb.Point) {
	if b.IsEmpty() {
		b.MinX, b.MinY, b.MaxX, b.MaxY = p[0], p[1], p[0], p[1]
		return
	}
	b.MinX = math.Min(b.MinX, p[0])
	b.MinY = math.Min(b.MinY, p[1])
	b.MaxX = math.Max(b.MaxX, p[0])
	b.MaxY = math.Max(b.MaxY, p[1])
}

// Union returns the smallest box covering both. Either side may be nil.
func (b *BoundingBox) Union(other *BoundingBox) *BoundingBox {
	switch {
	case b.IsEmpty() && other.IsEmpty():
		return nil
	case b.IsEmpty():
		c := *other
		return &c
	case other.IsEmpty():
		c := *b
		return &c
	}
	u := b.Bound().Union(other.Bound())
	return FromBound(u, b.SRID)
}

func (b *BoundingBox) String() string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf("BOX(%g %g,%g %g) SRID=%d", b.MinX, b.MinY, b.MaxX, b.MaxY, b.SRID)
}
