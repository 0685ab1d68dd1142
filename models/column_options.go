package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/zeebo/errs"
)

// ErrColumnOptions is returned for column mappings that cannot be used.
var ErrColumnOptions = errs.Class("column options")

type IndexingStrategy string

const (
	StrategyID               IndexingStrategy = "id"
	StrategyNameMunicipality IndexingStrategy = "name_municipality"
)

func (s IndexingStrategy) Valid() bool {
	return s == StrategyID || s == StrategyNameMunicipality
}

// ColumnOptions maps source attribute names onto Area fields.
// An empty column name means the field is not mapped.
type ColumnOptions struct {
	IndexingStrategy     IndexingStrategy `json:"indexingStrategy"`
	IDCol                string           `json:"idCol,omitempty"`
	NameCol              string           `json:"nameCol"`
	MunicipalityCol      string           `json:"municipalityCol"`
	RegionCol            string           `json:"regionCol,omitempty"`
	DescriptionCol       string           `json:"descriptionCol,omitempty"`
	AreaCol              string           `json:"areaCol,omitempty"`
	DateCol              string           `json:"dateCol,omitempty"`
	OwnerCol             string           `json:"ownerCol,omitempty"`
	PersonResponsibleCol string           `json:"personResponsibleCol,omitempty"`
}

func (o ColumnOptions) Validate() error {
	if !o.IndexingStrategy.Valid() {
		return ErrColumnOptions.New("unknown indexing strategy %q", o.IndexingStrategy)
	}
	if o.NameCol == "" {
		return ErrColumnOptions.New("nameCol is required")
	}
	if o.MunicipalityCol == "" {
		return ErrColumnOptions.New("municipalityCol is required")
	}
	if o.IndexingStrategy == StrategyID && o.IDCol == "" {
		return ErrColumnOptions.New("idCol is required for the %q strategy", StrategyID)
	}

	seen := make(map[string]string)
	for field, col := range o.mapping() {
		if col == "" {
			continue
		}
		if other, ok := seen[col]; ok {
			return ErrColumnOptions.New("column %q mapped to both %s and %s", col, other, field)
		}
		seen[col] = field
	}
	return nil
}

// Columns returns every configured source column.
func (o ColumnOptions) Columns() []string {
	var cols []string
	for _, col := range []string{
		o.IDCol, o.NameCol, o.MunicipalityCol, o.RegionCol, o.DescriptionCol,
		o.AreaCol, o.DateCol, o.OwnerCol, o.PersonResponsibleCol,
	} {
		if col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}

func (o ColumnOptions) mapping() map[string]string {
	return map[string]string{
		"idCol":                o.IDCol,
		"nameCol":              o.NameCol,
		"municipalityCol":      o.MunicipalityCol,
		"regionCol":            o.RegionCol,
		"descriptionCol":       o.DescriptionCol,
		"areaCol":              o.AreaCol,
		"dateCol":              o.DateCol,
		"ownerCol":             o.OwnerCol,
		"personResponsibleCol": o.PersonResponsibleCol,
	}
}

func (o ColumnOptions) Value() (driver.Value, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (o *ColumnOptions) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	case nil:
		*o = ColumnOptions{}
		return nil
	}
	return fmt.Errorf("column options: unsupported value %T", value)
}

func (ColumnOptions) GormDataType() string {
	return "jsonb"
}
