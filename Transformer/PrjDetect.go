package Transformer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	authorityRe = regexp.MustCompile(`(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	crsNameRe   = regexp.MustCompile(`^\s*(PROJCS|GEOGCS|PROJCRS|GEOGCRS)\[\s*"([^"]+)"`)
)

// knownCRS maps the names ESRI style .prj files use when they carry no
// EPSG authority.
var knownCRS = map[string]int{
	"etrs_1989_tm35fin":                       3067,
	"etrs89_/_tm35fin(e,n)":                   3067,
	"etrs89_/_tm35fin(n,e)":                   3067,
	"euref_fin_tm35fin":                       3067,
	"etrs_1989_utm_zone_35n":                  25835,
	"etrs89_/_utm_zone_35n":                   25835,
	"kkj_finland_uniform_coordinate_system":   2393,
	"kkj_/_finland_uniform_coordinate_system": 2393,
	"kkj_finland_zone_3":                      2393,
	"gcs_wgs_1984":                            4326,
	"wgs_84":                                  4326,
	"wgs84":                                   4326,
	"gcs_etrs_1989":                           4258,
	"etrs89":                                  4258,
	"gcs_euref_fin":                           4258,
	"wgs_1984_web_mercator_auxiliary_sphere":  3857,
	"wgs_84_/_pseudo-mercator":                3857,
	"wgs_1984_web_mercator":                   3857,
	"cgcs2000":                                4490,
}

// DetectSRID extracts the EPSG code and the coordinate system name from a
// WKT .prj text. The code is 0 when it cannot be determined.
func DetectSRID(prj string) (int, string) {
	prj = strings.TrimSpace(prj)
	name := ""
	if m := crsNameRe.FindStringSubmatch(prj); m != nil {
		name = m[2]
	}

	// The authority of the outermost CRS is the last one in the text.
	if all := authorityRe.FindAllStringSubmatchIndex(prj, -1); len(all) > 0 {
		last := all[len(all)-1]
		if depthAt(prj, last[0]) == 1 {
			if code, err := strconv.Atoi(prj[last[2]:last[3]]); err == nil {
				return code, name
			}
		}
	}

	if name != "" {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
		if code, ok := knownCRS[key]; ok {
			return code, name
		}
	}
	return 0, name
}

// depthAt counts the open brackets before idx.
func depthAt(prj string, idx int) int {
	depth := 0
	for _, c := range prj[:idx] {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		}
	}
	return depth
}
