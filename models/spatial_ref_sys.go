package models

// SpatialRefSys is the PostGIS catalogue of coordinate systems. It is used to
// resolve .prj files that carry no EPSG authority.
type SpatialRefSys struct {
	SRID      int    `gorm:"column:srid;primaryKey" json:"srid"`
	AuthName  string `gorm:"column:auth_name" json:"auth_name"`
	AuthSRID  int    `gorm:"column:auth_srid" json:"auth_srid"`
	SRText    string `gorm:"column:srtext" json:"srtext"`
	Proj4Text string `gorm:"column:proj4text" json:"proj4text"`
}

func (SpatialRefSys) TableName() string {
	return "spatial_ref_sys"
}

// EPSG returns the EPSG code of the entry, falling back to the local SRID.
func (s SpatialRefSys) EPSG() int {
	if s.AuthName == "EPSG" && s.AuthSRID > 0 {
		return s.AuthSRID
	}
	return s.SRID
}
