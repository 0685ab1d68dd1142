package methods

import (
	"math"
	"strconv"
	"strings"

	"github.com/GrainArc/LayerSync/models"
)

// ReconciliationKey identifies an Area inside its layer. Exactly one of
// ExternalID or the Name/Municipality pair is set, depending on the strategy.
type ReconciliationKey struct {
	ExternalID   string
	Name         string
	Municipality string
}

func (k ReconciliationKey) String() string {
	if k.ExternalID != "" {
		return "id:" + k.ExternalID
	}
	return "name:" + k.Name + "|" + k.Municipality
}

// DeriveKey computes the reconciliation key of a raw feature.
func DeriveKey(opts models.ColumnOptions, props *models.Properties) (ReconciliationKey, bool) {
	switch opts.IndexingStrategy {
	case models.StrategyID:
		v, _ := props.Get(opts.IDCol)
		id, ok := Stringify(v)
		if !ok {
			return ReconciliationKey{}, false
		}
		return ReconciliationKey{ExternalID: id}, true

	case models.StrategyNameMunicipality:
		nv, _ := props.Get(opts.NameCol)
		mv, _ := props.Get(opts.MunicipalityCol)
		name, ok := Stringify(nv)
		if !ok {
			return ReconciliationKey{}, false
		}
		municipality, ok := Stringify(mv)
		if !ok {
			return ReconciliationKey{}, false
		}
		name = strings.TrimSpace(FixEncoding(name))
		municipality = strings.TrimSpace(FixEncoding(municipality))
		if name == "" || municipality == "" {
			return ReconciliationKey{}, false
		}
		return ReconciliationKey{Name: name, Municipality: municipality}, true
	}
	return ReconciliationKey{}, false
}

// KeyOfArea derives the key of an already stored Area.
func KeyOfArea(opts models.ColumnOptions, area *models.Area) (ReconciliationKey, bool) {
	switch opts.IndexingStrategy {
	case models.StrategyID:
		if area.ExternalID == nil || *area.ExternalID == "" {
			return ReconciliationKey{}, false
		}
		return ReconciliationKey{ExternalID: *area.ExternalID}, true

	case models.StrategyNameMunicipality:
		if area.Name == "" || area.Municipality == nil || *area.Municipality == "" {
			return ReconciliationKey{}, false
		}
		return ReconciliationKey{Name: area.Name, Municipality: *area.Municipality}, true
	}
	return ReconciliationKey{}, false
}

// MappedColumns holds the Area fields taken out of a raw attribute map.
// A nil pointer means the source did not provide the value.
type MappedColumns struct {
	Name              *string
	Municipality      *string
	Region            *string
	Description       *string
	AreaHa            *float64
	ExternalID        *string
	Date              *string
	Owner             *string
	PersonResponsible *string
}

// ExtractMapped removes every configured column from props and returns
// their values. What is left in props is the unmapped remainder.
func ExtractMapped(opts models.ColumnOptions, props *models.Properties) MappedColumns {
	var m MappedColumns

	text := func(col string) *string {
		if col == "" {
			return nil
		}
		v, ok := props.Delete(col)
		if !ok {
			return nil
		}
		s, ok := Stringify(v)
		if !ok {
			return nil
		}
		s = strings.TrimSpace(FixEncoding(s))
		if s == "" {
			return nil
		}
		return &s
	}

	m.Name = text(opts.NameCol)
	m.Municipality = text(opts.MunicipalityCol)
	m.Region = text(opts.RegionCol)
	m.Description = text(opts.DescriptionCol)
	m.Date = text(opts.DateCol)
	m.Owner = text(opts.OwnerCol)
	m.PersonResponsible = text(opts.PersonResponsibleCol)
	if opts.IDCol != "" {
		v, ok := props.Delete(opts.IDCol)
		if ok {
			if id, ok := Stringify(v); ok {
				m.ExternalID = &id
			}
		}
	}
	if opts.AreaCol != "" {
		v, ok := props.Delete(opts.AreaCol)
		if ok {
			if f, ok := toFloat(v); ok {
				m.AreaHa = &f
			}
		}
	}
	return m
}

// Stringify renders a scalar attribute the way it is stored as a key.
// Integral floats print without a fraction, so 1.0 becomes "1".
func Stringify(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
