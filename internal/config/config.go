package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Latitude limit of the Web Mercator tile scheme. Coordinates beyond it have
// no tile to land in, so they are rejected here rather than clamped later.
const maxMercatorLat = 85.0511287798

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// String returns the bbox in "minlon,minlat,maxlon,maxlat" format
func (b *BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	// Validate
	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}
	if bbox.MinLon < -180 || bbox.MaxLon > 180 {
		return nil, fmt.Errorf("longitude must be within -180..180")
	}
	if bbox.MinLat < -maxMercatorLat || bbox.MaxLat > maxMercatorLat {
		return nil, fmt.Errorf("latitude must be within -%.7f..%.7f", maxMercatorLat, maxMercatorLat)
	}

	return bbox, nil
}

// ParseZoomRange parses a zoom range string such as "8-14" or a single zoom
// level such as "10"
func ParseZoomRange(s string) (minZoom, maxZoom int, err error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		hi = lo
	}

	minZoom, err = strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid zoom level %q: %w", lo, err)
	}
	maxZoom, err = strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid zoom level %q: %w", hi, err)
	}

	if minZoom < 0 || maxZoom > 22 {
		return 0, 0, fmt.Errorf("zoom levels must be within 0..22")
	}
	if minZoom > maxZoom {
		return 0, 0, fmt.Errorf("min zoom (%d) must be <= max zoom (%d)", minZoom, maxZoom)
	}

	return minZoom, maxZoom, nil
}

// Config holds the global configuration for the fetch and pack pipelines
type Config struct {
	// Acquisition settings
	BBox         *BBox  // Geographic bounding box to cover
	MinZoom      int    // Lowest zoom level to fetch
	MaxZoom      int    // Highest zoom level to fetch
	Source       string // Tile source name or URL template
	CatalogFile  string // Path to a YAML source catalog (optional)
	FetchTimeout time.Duration
	MinTileBytes int64  // Smallest payload accepted as a real tile
	FilterScript string // Path to a Lua tile filter script (optional)
	FailuresFile string // Path for the failed tile report (optional)

	// Store settings
	StoreDir string

	// Packaging settings
	OutputFile  string
	Name        string // Overrides the tileset name in metadata
	Description string
	Attribution string

	// Processing settings
	Workers int

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	// Remote tile services tolerate only modest concurrency
	workers := runtime.NumCPU()
	if workers < 4 {
		workers = 4
	}
	if workers > 8 {
		workers = 8
	}

	return &Config{
		BBox: &BBox{
			MinLon: -5.0,
			MinLat: 47.0,
			MaxLon: 2.0,
			MaxLat: 50.0,
			IsSet:  true,
		},
		MinZoom:         8,
		MaxZoom:         14,
		Source:          "shom-marine",
		StoreDir:        "./tiles",
		OutputFile:      "marine_charts.mbtiles",
		FetchTimeout:    30 * time.Second,
		MinTileBytes:    1000,
		Workers:         workers,
		Verbose:         false,
		LogFile:         "",               // No file logging by default
		MetricsInterval: 30 * time.Second, // Log system metrics every 30 seconds
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.BBox == nil || !c.BBox.IsSet {
		return fmt.Errorf("bounding box is required")
	}
	if c.Source == "" {
		return fmt.Errorf("tile source is required")
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store directory is required")
	}
	if c.MinZoom < 0 || c.MaxZoom > 22 {
		return fmt.Errorf("zoom levels must be within 0..22")
	}
	if c.MinZoom > c.MaxZoom {
		return fmt.Errorf("min zoom (%d) must be <= max zoom (%d)", c.MinZoom, c.MaxZoom)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MinTileBytes < 0 {
		return fmt.Errorf("min tile bytes must not be negative")
	}
	return nil
}
