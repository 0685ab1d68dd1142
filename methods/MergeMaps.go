package methods

import (
	"github.com/GrainArc/LayerSync/models"
	"github.com/paulmach/orb"
)

// MergeResult reports what a merge touched.
type MergeResult struct {
	Changed         bool
	GeometryChanged bool
}

// MergeArea folds an incoming feature into an existing Area.
// Scalar columns follow sparse merge: a nil incoming value never clears a
// stored one. The geometry is always replaced and the original properties
// are merged with incoming keys winning.
func MergeArea(area *models.Area, mapped MappedColumns, geom models.Geometry, props *models.Properties) MergeResult {
	var res MergeResult

	if mapped.Name != nil && *mapped.Name != area.Name {
		area.Name = *mapped.Name
		res.Changed = true
	}
	res.Changed = mergeString(&area.Municipality, mapped.Municipality) || res.Changed
	res.Changed = mergeString(&area.Region, mapped.Region) || res.Changed
	res.Changed = mergeString(&area.Description, mapped.Description) || res.Changed
	res.Changed = mergeString(&area.Date, mapped.Date) || res.Changed
	res.Changed = mergeString(&area.Owner, mapped.Owner) || res.Changed
	res.Changed = mergeString(&area.PersonResponsible, mapped.PersonResponsible) || res.Changed
	res.Changed = mergeString(&area.ExternalID, mapped.ExternalID) || res.Changed
	if mapped.AreaHa != nil && (area.AreaHa == nil || *area.AreaHa != *mapped.AreaHa) {
		v := *mapped.AreaHa
		area.AreaHa = &v
		res.Changed = true
	}

	if area.Geometry.SRID != geom.SRID || !equalGeometry(area.Geometry.Geometry, geom.Geometry) {
		area.Geometry = geom
		res.Changed = true
		res.GeometryChanged = true
	}

	merged := area.OriginalProperties.Clone()
	merged.Merge(props)
	if !merged.Equal(&area.OriginalProperties) {
		area.OriginalProperties = *merged
		res.Changed = true
	}
	return res
}

func mergeString(dst **string, incoming *string) bool {
	if incoming == nil {
		return false
	}
	if *dst != nil && **dst == *incoming {
		return false
	}
	v := *incoming
	*dst = &v
	return true
}

func equalGeometry(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return orb.Equal(a, b)
}
