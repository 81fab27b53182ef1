package tile

import "math"

// Web Mercator (EPSG:3857) constants
const (
	// Earth radius in meters (WGS84 semi-major axis)
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator in meters
	maxExtent = 20037508.342789244
	// Pixels per tile edge
	tileSize = 256
)

// LonLatToMeters transforms WGS84 longitude/latitude (EPSG:4326) to Web
// Mercator meters (EPSG:3857)
func LonLatToMeters(lon, lat float64) (x, y float64) {
	x = lon * maxExtent / 180.0

	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * maxExtent / 180.0

	return x, y
}

// MetersToLonLat transforms Web Mercator meters (EPSG:3857) to WGS84
// longitude/latitude (EPSG:4326)
func MetersToLonLat(x, y float64) (lon, lat float64) {
	lon = x / maxExtent * 180.0

	lat = y / maxExtent * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)

	return lon, lat
}

// ResolutionAt returns the ground resolution in meters per pixel at the given
// latitude and zoom level. Resolution shrinks toward the poles by the cosine
// of the latitude.
func ResolutionAt(lat float64, zoom int) float64 {
	latRad := lat * math.Pi / 180.0
	circumference := 2.0 * math.Pi * earthRadius
	return math.Cos(latRad) * circumference / float64(int64(tileSize)<<zoom)
}
