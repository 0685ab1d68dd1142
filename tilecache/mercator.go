package tilecache

import "math"

const (
	semiMajorAxis = 6378137.0
	// maxMercatorLat is where web mercator y reaches the square world bound.
	maxMercatorLat = 85.0511287798066
)

func lonLatToMercator(lon, lat float64) (float64, float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x := semiMajorAxis * (math.Pi / 180) * lon
	y := semiMajorAxis * math.Log(math.Tan(math.Pi/4+(math.Pi/180)*lat/2))
	return x, y
}

func mercatorToLonLat(x, y float64) (float64, float64) {
	lon := x / semiMajorAxis * 180 / math.Pi
	lat := math.Atan(math.Exp(y/semiMajorAxis))*360/math.Pi - 90
	return lon, lat
}
