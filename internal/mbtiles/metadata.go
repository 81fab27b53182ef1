package mbtiles

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// Metadata describes one archive. Zero-value fields fall back to the
// defaults most raster viewers expect.
type Metadata struct {
	Name        string
	Format      string
	MinZoom     int
	MaxZoom     int
	Bounds      tile.BBox
	Center      tile.Point
	CenterZoom  int
	Version     string
	Type        string
	Attribution string
	Description string

	// TileCount and LayerName feed the tilestats row.
	TileCount int64
	LayerName string
}

type layerStats struct {
	Layer          string   `json:"layer"`
	Count          int64    `json:"count"`
	Geometry       string   `json:"geometry"`
	AttributeCount int      `json:"attributeCount"`
	Attributes     []string `json:"attributes"`
}

type tileStats struct {
	LayerCount int          `json:"layerCount"`
	Layers     []layerStats `json:"layers"`
}

// Rows renders the metadata table content in insertion order.
func (md Metadata) Rows() ([][2]string, error) {
	version := md.Version
	if version == "" {
		version = "1.0"
	}
	kind := md.Type
	if kind == "" {
		kind = "overlay"
	}
	layer := md.LayerName
	if layer == "" {
		layer = "tiles"
	}

	stats := tileStats{
		LayerCount: 1,
		Layers: []layerStats{{
			Layer:      layer,
			Count:      md.TileCount,
			Geometry:   "Unknown",
			Attributes: []string{},
		}},
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tilestats: %w", err)
	}

	bounds := fmt.Sprintf("%s,%s,%s,%s",
		coord(md.Bounds.MinLon), coord(md.Bounds.MinLat),
		coord(md.Bounds.MaxLon), coord(md.Bounds.MaxLat))
	center := fmt.Sprintf("%s,%s,%d",
		coord(md.Center.Lon), coord(md.Center.Lat), md.CenterZoom)

	return [][2]string{
		{"name", md.Name},
		{"format", md.Format},
		{"minzoom", strconv.Itoa(md.MinZoom)},
		{"maxzoom", strconv.Itoa(md.MaxZoom)},
		{"bounds", bounds},
		{"center", center},
		{"version", version},
		{"type", kind},
		{"attribution", md.Attribution},
		{"description", md.Description},
		{"tilestats", string(statsJSON)},
	}, nil
}

// coord renders a coordinate with the shortest exact decimal form.
func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
