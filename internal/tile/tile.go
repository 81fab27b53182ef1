package tile

import (
	"fmt"
	"iter"
	"math"
)

// Tile identifies a single map tile in the XYZ scheme
type Tile struct {
	Z   int // Zoom level
	Col int // Column, increasing west to east
	Row int // Row, increasing north to south
}

// String returns the tile in z/col/row format
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.Col, t.Row)
}

// Key returns a unique string key for the tile (for deduplication)
func (t Tile) Key() string {
	return t.String()
}

// Valid reports whether the tile exists in the scheme at its zoom level
func (t Tile) Valid() bool {
	if t.Z < 0 {
		return false
	}
	n := 1 << t.Z
	return t.Col >= 0 && t.Col < n && t.Row >= 0 && t.Row < n
}

// Point is a geographic coordinate in degrees
type Point struct {
	Lat float64
	Lon float64
}

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// IsValid checks if the bounding box is valid
func (b BBox) IsValid() bool {
	return b.MinLon <= b.MaxLon && b.MinLat <= b.MaxLat &&
		b.MinLon >= -180 && b.MaxLon <= 180 &&
		b.MinLat >= -90 && b.MaxLat <= 90
}

// Expand expands the bounding box to include another bbox
func (b *BBox) Expand(other BBox) {
	if other.MinLon < b.MinLon {
		b.MinLon = other.MinLon
	}
	if other.MaxLon > b.MaxLon {
		b.MaxLon = other.MaxLon
	}
	if other.MinLat < b.MinLat {
		b.MinLat = other.MinLat
	}
	if other.MaxLat > b.MaxLat {
		b.MaxLat = other.MaxLat
	}
}

// Center returns the midpoint of the bounding box
func (b BBox) Center() Point {
	return Point{
		Lat: (b.MinLat + b.MaxLat) / 2.0,
		Lon: (b.MinLon + b.MaxLon) / 2.0,
	}
}

// Web Mercator constants
const (
	// Maximum latitude representable in Web Mercator (approximately 85.051129°)
	MaxMercatorLat = 85.0511287798
	// Minimum latitude representable in Web Mercator
	MinMercatorLat = -85.0511287798
)

// PointToTile converts latitude/longitude to tile coordinates at a given zoom
// level, using the standard Web Mercator tile scheme (OSM/Google style).
//
// Input is not clamped: coordinates outside the Web Mercator domain produce
// out-of-scheme tile coordinates. Callers validate with Tile.Valid.
func PointToTile(lat, lon float64, zoom int) Tile {
	n := float64(int(1) << zoom) // 2^zoom

	col := int(math.Floor((lon + 180.0) / 360.0 * n))

	latRad := lat * math.Pi / 180.0
	row := int(math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n))

	return Tile{Z: zoom, Col: col, Row: row}
}

// TileToPoint returns the geographic coordinate of the northwest corner of
// the tile at (col, row). col may equal 2^zoom and row may equal 2^zoom, in
// which case the result is the scheme's east or south edge.
func TileToPoint(col, row, zoom int) Point {
	n := float64(int(1) << zoom)

	lon := float64(col)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1.0 - 2.0*float64(row)/n)))

	return Point{Lat: latRad * 180.0 / math.Pi, Lon: lon}
}

// FlipRow converts a row number between the XYZ and TMS schemes, which count
// rows from opposite poles. The conversion is its own inverse.
func FlipRow(zoom, row int) int {
	return (1 << zoom) - 1 - row
}

// Rect is a contiguous rectangle of tiles at a single zoom level, inclusive
// on all four edges.
type Rect struct {
	Z              int
	MinCol, MaxCol int
	MinRow, MaxRow int
}

// Count returns the number of tiles in the rect without enumerating them
func (r Rect) Count() int64 {
	return int64(r.MaxCol-r.MinCol+1) * int64(r.MaxRow-r.MinRow+1)
}

// Contains reports whether the tile lies inside the rect
func (r Rect) Contains(t Tile) bool {
	return t.Z == r.Z &&
		t.Col >= r.MinCol && t.Col <= r.MaxCol &&
		t.Row >= r.MinRow && t.Row <= r.MaxRow
}

// All returns the rect's tiles in ascending column then row order. The
// sequence is finite and can be ranged over any number of times.
func (r Rect) All() iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		for col := r.MinCol; col <= r.MaxCol; col++ {
			for row := r.MinRow; row <= r.MaxRow; row++ {
				if !yield(Tile{Z: r.Z, Col: col, Row: row}) {
					return
				}
			}
		}
	}
}

// Tiles returns all tiles in the rect as a slice
func (r Rect) Tiles() []Tile {
	tiles := make([]Tile, 0, r.Count())
	for t := range r.All() {
		tiles = append(tiles, t)
	}
	return tiles
}

// BoundsToRect converts a bounding box to the rect of tiles covering it at a
// given zoom level
func BoundsToRect(bbox BBox, zoom int) Rect {
	// In tile coordinates the row axis increases downward (north to south),
	// so the northwest corner carries the smaller row.
	topLeft := PointToTile(bbox.MaxLat, bbox.MinLon, zoom)
	bottomRight := PointToTile(bbox.MinLat, bbox.MaxLon, zoom)

	r := Rect{
		Z:      zoom,
		MinCol: topLeft.Col,
		MaxCol: bottomRight.Col,
		MinRow: topLeft.Row,
		MaxRow: bottomRight.Row,
	}
	if r.MinRow > r.MaxRow {
		r.MinRow, r.MaxRow = r.MaxRow, r.MinRow
	}
	return r
}

// RectsForBounds returns the covering rect for each zoom level in the range,
// ascending
func RectsForBounds(bbox BBox, minZoom, maxZoom int) []Rect {
	rects := make([]Rect, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		rects = append(rects, BoundsToRect(bbox, z))
	}
	return rects
}
