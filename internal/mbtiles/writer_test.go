package mbtiles

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

func archivePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.mbtiles")
}

func payload(marker byte) []byte {
	data := bytes.Repeat([]byte{marker}, 120)
	return data
}

func readTiles(t *testing.T, path string) map[[3]int][]byte {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles`)
	if err != nil {
		t.Fatalf("query tiles: %v", err)
	}
	defer rows.Close()

	tiles := make(map[[3]int][]byte)
	for rows.Next() {
		var z, col, row int
		var data []byte
		if err := rows.Scan(&z, &col, &row, &data); err != nil {
			t.Fatalf("scan tile row: %v", err)
		}
		tiles[[3]int{z, col, row}] = data
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate tiles: %v", err)
	}
	return tiles
}

func readMetadata(t *testing.T, path string) map[string]string {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		t.Fatalf("query metadata: %v", err)
	}
	defer rows.Close()

	md := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			t.Fatalf("scan metadata row: %v", err)
		}
		md[name] = value
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate metadata: %v", err)
	}
	return md
}

func TestWriterFlipsRows(t *testing.T) {
	path := archivePath(t)

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	inputs := []struct {
		t    tile.Tile
		data []byte
	}{
		{tile.Tile{Z: 8, Col: 124, Row: 0}, payload(0x01)},
		{tile.Tile{Z: 8, Col: 124, Row: 86}, payload(0x02)},
		{tile.Tile{Z: 8, Col: 124, Row: 255}, payload(0x03)},
		{tile.Tile{Z: 9, Col: 250, Row: 172}, payload(0x04)},
	}
	for _, in := range inputs {
		if err := w.AddTile(in.t, in.data); err != nil {
			t.Fatalf("AddTile(%s): %v", in.t, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := w.Inserted(); got != 4 {
		t.Fatalf("Inserted() = %d, want 4", got)
	}

	tiles := readTiles(t, path)
	if len(tiles) != 4 {
		t.Fatalf("archive holds %d tiles, want 4", len(tiles))
	}
	for _, in := range inputs {
		key := [3]int{in.t.Z, in.t.Col, tile.FlipRow(in.t.Z, in.t.Row)}
		data, ok := tiles[key]
		if !ok {
			t.Errorf("tile %s missing at flipped row %d", in.t, key[2])
			continue
		}
		if !bytes.Equal(data, in.data) {
			t.Errorf("tile %s data mismatch", in.t)
		}
	}
	// Row 0 at zoom 8 lands on TMS row 255 and vice versa.
	if _, ok := tiles[[3]int{8, 124, 255}]; !ok {
		t.Error("XYZ row 0 not stored as TMS row 255")
	}
	if _, ok := tiles[[3]int{8, 124, 0}]; !ok {
		t.Error("XYZ row 255 not stored as TMS row 0")
	}
}

func TestWriterSkipsUndersized(t *testing.T) {
	path := archivePath(t)

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.AddTile(tile.Tile{Z: 8, Col: 1, Row: 1}, bytes.Repeat([]byte{0xFF}, 99)); err != nil {
		t.Fatalf("AddTile undersized: %v", err)
	}
	if err := w.AddTile(tile.Tile{Z: 8, Col: 1, Row: 2}, payload(0xAA)); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := w.Skipped(); got != 1 {
		t.Errorf("Skipped() = %d, want 1", got)
	}
	if got := w.Inserted(); got != 1 {
		t.Errorf("Inserted() = %d, want 1", got)
	}
	if got := len(readTiles(t, path)); got != 1 {
		t.Errorf("archive holds %d tiles, want 1", got)
	}
}

func TestWriterMinSizeOption(t *testing.T) {
	path := archivePath(t)

	w, err := NewWriter(path, WithMinSize(10))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.AddTile(tile.Tile{Z: 8, Col: 1, Row: 1}, bytes.Repeat([]byte{0xFF}, 99)); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := w.Inserted(); got != 1 {
		t.Errorf("Inserted() = %d, want 1", got)
	}
	if got := w.Skipped(); got != 0 {
		t.Errorf("Skipped() = %d, want 0", got)
	}
}

func TestWriterReplacesExisting(t *testing.T) {
	path := archivePath(t)
	if err := os.WriteFile(path, []byte("not a database"), 0644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter over stale file: %v", err)
	}
	if err := w.AddTile(tile.Tile{Z: 8, Col: 5, Row: 5}, payload(0x10)); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(readTiles(t, path)); got != 1 {
		t.Errorf("rebuilt archive holds %d tiles, want 1", got)
	}
}

func TestWriterMetadataAndIndex(t *testing.T) {
	path := archivePath(t)

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddTile(tile.Tile{Z: 8, Col: 124, Row: 86}, payload(0x01)); err != nil {
		t.Fatalf("AddTile: %v", err)
	}

	md := Metadata{
		Name:        "SHOM Marine Charts",
		Format:      "png",
		MinZoom:     8,
		MaxZoom:     14,
		Bounds:      tile.BBox{MinLon: -5.625, MinLat: 47.040182144806664, MaxLon: 2.8125, MaxLat: 50.05008477838714},
		Center:      tile.Point{Lat: 48.5, Lon: -1.40625},
		CenterZoom:  10,
		Attribution: "SHOM",
		Description: "Marine charts covering the Brittany coast",
		TileCount:   1,
		LayerName:   "marine_charts",
	}
	if err := w.WriteMetadata(md); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := readMetadata(t, path)
	want := map[string]string{
		"name":        "SHOM Marine Charts",
		"format":      "png",
		"minzoom":     "8",
		"maxzoom":     "14",
		"bounds":      "-5.625,47.040182144806664,2.8125,50.05008477838714",
		"center":      "-1.40625,48.5,10",
		"version":     "1.0",
		"type":        "overlay",
		"attribution": "SHOM",
		"description": "Marine charts covering the Brittany coast",
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("metadata[%q] = %q, want %q", name, got[name], value)
		}
	}

	var stats tileStats
	if err := json.Unmarshal([]byte(got["tilestats"]), &stats); err != nil {
		t.Fatalf("tilestats is not valid JSON: %v", err)
	}
	if stats.LayerCount != 1 || len(stats.Layers) != 1 {
		t.Fatalf("tilestats layers = %+v, want exactly one", stats)
	}
	layer := stats.Layers[0]
	if layer.Layer != "marine_charts" || layer.Count != 1 || layer.Geometry != "Unknown" {
		t.Errorf("tilestats layer = %+v", layer)
	}
	if layer.Attributes == nil || len(layer.Attributes) != 0 {
		t.Errorf("tilestats attributes = %v, want empty array", layer.Attributes)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer db.Close()
	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'tile_index'`).Scan(&name)
	if err != nil {
		t.Fatalf("tile_index missing: %v", err)
	}
}

func TestMetadataDefaults(t *testing.T) {
	rows, err := Metadata{Name: "x", Format: "png", TileCount: 3}.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}

	byName := make(map[string]string, len(rows))
	for _, row := range rows {
		byName[row[0]] = row[1]
	}
	if byName["version"] != "1.0" {
		t.Errorf("version = %q, want 1.0", byName["version"])
	}
	if byName["type"] != "overlay" {
		t.Errorf("type = %q, want overlay", byName["type"])
	}

	var stats tileStats
	if err := json.Unmarshal([]byte(byName["tilestats"]), &stats); err != nil {
		t.Fatalf("tilestats: %v", err)
	}
	if stats.Layers[0].Layer != "tiles" {
		t.Errorf("default layer = %q, want tiles", stats.Layers[0].Layer)
	}
	if stats.Layers[0].Count != 3 {
		t.Errorf("layer count = %d, want 3", stats.Layers[0].Count)
	}

	if rows[0][0] != "name" {
		t.Errorf("first row = %q, want name", rows[0][0])
	}
	if rows[len(rows)-1][0] != "tilestats" {
		t.Errorf("last row = %q, want tilestats", rows[len(rows)-1][0])
	}
}

func TestWriterCloseWithoutFinalize(t *testing.T) {
	path := archivePath(t)

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddTile(tile.Tile{Z: 8, Col: 1, Row: 1}, payload(0x01)); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Without Finalize the transaction rolls back and no tiles survive.
	if got := len(readTiles(t, path)); got != 0 {
		t.Errorf("archive holds %d tiles after rollback, want 0", got)
	}
}

func TestWriterProgressCallback(t *testing.T) {
	path := archivePath(t)

	var calls int
	w, err := NewWriter(path, WithProgress(func() { calls++ }))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := w.AddTile(tile.Tile{Z: 8, Col: 1, Row: i}, payload(byte(i + 1))); err != nil {
			t.Fatalf("AddTile: %v", err)
		}
	}
	// Undersized artifacts do not trigger the callback.
	if err := w.AddTile(tile.Tile{Z: 8, Col: 1, Row: 9}, []byte("tiny")); err != nil {
		t.Fatalf("AddTile undersized: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if calls != 3 {
		t.Errorf("progress callback ran %d times, want 3", calls)
	}
}
