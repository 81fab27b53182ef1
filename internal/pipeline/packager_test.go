package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wegman-software/wmts2mbtiles-go/internal/config"
	"github.com/wegman-software/wmts2mbtiles-go/internal/mbtiles"
	"github.com/wegman-software/wmts2mbtiles-go/internal/store"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

func seedStore(t *testing.T, dir string) {
	t.Helper()

	st := store.New(dir, "png")
	tiles := []tile.Tile{
		{Z: 8, Col: 124, Row: 86},
		{Z: 8, Col: 125, Row: 86},
		{Z: 8, Col: 124, Row: 87},
	}
	for i, tl := range tiles {
		data := bytes.Repeat([]byte{byte(i + 1)}, 150)
		if err := st.Write(tl, data); err != nil {
			t.Fatalf("seed tile %s: %v", tl, err)
		}
	}
	// Undersized artifact, counted by the scan but skipped by the writer.
	if err := st.Write(tile.Tile{Z: 8, Col: 126, Row: 86}, bytes.Repeat([]byte{0xEE}, 50)); err != nil {
		t.Fatalf("seed undersized tile: %v", err)
	}

	manifest := &store.Manifest{
		Source:    "shom-marine",
		Format:    "png",
		BBox:      "-5.000000,47.000000,-4.000000,48.000000",
		MinZoom:   8,
		MaxZoom:   8,
		Timestamp: time.Now().UTC(),
	}
	if err := store.WriteManifest(dir, manifest); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func packConfig(t *testing.T, storeDir string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.StoreDir = storeDir
	cfg.OutputFile = filepath.Join(t.TempDir(), "out.mbtiles")
	return cfg
}

func queryMetadata(t *testing.T, path string) map[string]string {
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
			t.Fatalf("scan metadata: %v", err)
		}
		md[name] = value
	}
	return md
}

func queryTiles(t *testing.T, path string) map[string][]byte {
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

	tiles := make(map[string][]byte)
	for rows.Next() {
		var z, col, row int
		var data []byte
		if err := rows.Scan(&z, &col, &row, &data); err != nil {
			t.Fatalf("scan tile: %v", err)
		}
		tiles[fmt.Sprintf("%d/%d/%d", z, col, row)] = data
	}
	return tiles
}

func TestRunPack(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)
	cfg := packConfig(t, storeDir)

	stats, err := RunPack(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("RunPack: %v", err)
	}

	if stats.Found != 4 {
		t.Errorf("Found = %d, want 4", stats.Found)
	}
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", stats.Inserted)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}

	db, err := sql.Open("sqlite3", cfg.OutputFile)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tiles`).Scan(&count); err != nil {
		t.Fatalf("count tiles: %v", err)
	}
	if count != 3 {
		t.Errorf("archive holds %d tiles, want 3", count)
	}

	// XYZ row 86 at zoom 8 must land on TMS row 169.
	var data []byte
	err = db.QueryRow(
		`SELECT tile_data FROM tiles WHERE zoom_level = 8 AND tile_column = 124 AND tile_row = ?`,
		tile.FlipRow(8, 86),
	).Scan(&data)
	if err != nil {
		t.Fatalf("flipped tile lookup: %v", err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{1}, 150)) {
		t.Error("tile data does not match the seeded artifact")
	}
}

func TestRunPackMetadata(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)
	cfg := packConfig(t, storeDir)

	stats, err := RunPack(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("RunPack: %v", err)
	}

	md := queryMetadata(t, cfg.OutputFile)

	// The manifest names shom-marine, so the builtin supplies the title
	// and attribution.
	if md["name"] != "SHOM Marine Charts" {
		t.Errorf("name = %q", md["name"])
	}
	if md["attribution"] == "" {
		t.Error("attribution should come from the resolved source")
	}
	if md["format"] != "png" {
		t.Errorf("format = %q, want png", md["format"])
	}
	if md["minzoom"] != "8" || md["maxzoom"] != "8" {
		t.Errorf("zooms = %s-%s, want 8-8", md["minzoom"], md["maxzoom"])
	}
	if md["version"] != "1.0" {
		t.Errorf("version = %q, want 1.0", md["version"])
	}
	if md["type"] != "overlay" {
		t.Errorf("type = %q, want overlay", md["type"])
	}

	// Bounds cover columns 124-126 rows 86-87: west and east edges are
	// exact tile corners.
	wantWest := strconv.FormatFloat(tile.TileToPoint(124, 86, 8).Lon, 'f', -1, 64)
	wantEast := strconv.FormatFloat(tile.TileToPoint(127, 86, 8).Lon, 'f', -1, 64)
	fields := md["bounds"]
	if fields == "" {
		t.Fatal("bounds missing")
	}
	parts := [4]string{}
	for i, p := range bytes.Split([]byte(fields), []byte(",")) {
		parts[i] = string(p)
	}
	if parts[0] != wantWest {
		t.Errorf("bounds west = %s, want %s", parts[0], wantWest)
	}
	if parts[2] != wantEast {
		t.Errorf("bounds east = %s, want %s", parts[2], wantEast)
	}

	// Center zoom is minzoom+2 clamped to maxzoom, here 8.
	center := md["center"]
	if center == "" || center[len(center)-2:] != ",8" {
		t.Errorf("center = %q, want trailing zoom 8", center)
	}

	if md["description"] == "" {
		t.Error("description missing")
	}

	if got := stats.Bounds.CenterZoom; got != 8 {
		t.Errorf("CenterZoom = %d, want 8", got)
	}
}

func TestRunPackTilestatsLayer(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)
	cfg := packConfig(t, storeDir)

	if _, err := RunPack(context.Background(), cfg, nil); err != nil {
		t.Fatalf("RunPack: %v", err)
	}

	md := queryMetadata(t, cfg.OutputFile)
	stats := md["tilestats"]
	if stats == "" {
		t.Fatal("tilestats missing")
	}
	// Source name dashes become layer name underscores.
	if !bytes.Contains([]byte(stats), []byte(`"layer":"shom_marine"`)) {
		t.Errorf("tilestats = %s, want layer shom_marine", stats)
	}
	if !bytes.Contains([]byte(stats), []byte(`"count":3`)) {
		t.Errorf("tilestats = %s, want count 3", stats)
	}
}

func TestRunPackOverrides(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)
	cfg := packConfig(t, storeDir)
	cfg.Name = "Brittany Passage Charts"
	cfg.Attribution = "Test attribution"
	cfg.Description = "Hand-picked description"

	if _, err := RunPack(context.Background(), cfg, nil); err != nil {
		t.Fatalf("RunPack: %v", err)
	}

	md := queryMetadata(t, cfg.OutputFile)
	if md["name"] != "Brittany Passage Charts" {
		t.Errorf("name = %q", md["name"])
	}
	if md["attribution"] != "Test attribution" {
		t.Errorf("attribution = %q", md["attribution"])
	}
	if md["description"] != "Hand-picked description" {
		t.Errorf("description = %q", md["description"])
	}
}

func TestRunPackUnreadableArtifact(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)

	// A dangling symlink scans like a tile but cannot be read back.
	broken := filepath.Join(storeDir, "8", "124", "88.png")
	if err := os.Symlink(filepath.Join(storeDir, "missing.png"), broken); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	cfg := packConfig(t, storeDir)

	stats, err := RunPack(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("RunPack: %v", err)
	}
	if stats.Found != 5 {
		t.Errorf("Found = %d, want 5", stats.Found)
	}
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", stats.Inserted)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestRunPackEmptyStore(t *testing.T) {
	cfg := packConfig(t, t.TempDir())

	_, err := RunPack(context.Background(), cfg, nil)
	if !errors.Is(err, mbtiles.ErrNoTiles) {
		t.Fatalf("RunPack error = %v, want ErrNoTiles", err)
	}
	if _, err := os.Stat(cfg.OutputFile); !os.IsNotExist(err) {
		t.Error("no archive should exist for an empty store")
	}
}

func TestRunPackAllUndersized(t *testing.T) {
	storeDir := t.TempDir()
	st := store.New(storeDir, "png")
	if err := st.Write(tile.Tile{Z: 8, Col: 124, Row: 86}, bytes.Repeat([]byte{0xEE}, 50)); err != nil {
		t.Fatalf("seed tile: %v", err)
	}
	cfg := packConfig(t, storeDir)

	_, err := RunPack(context.Background(), cfg, nil)
	if !errors.Is(err, mbtiles.ErrNoTiles) {
		t.Fatalf("RunPack error = %v, want ErrNoTiles", err)
	}
	if _, err := os.Stat(cfg.OutputFile); !os.IsNotExist(err) {
		t.Error("archive with zero tiles should be removed")
	}
}

func TestRunPackProgress(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)
	cfg := packConfig(t, storeDir)

	var calls int
	if _, err := RunPack(context.Background(), cfg, func() { calls++ }); err != nil {
		t.Fatalf("RunPack: %v", err)
	}
	if calls != 3 {
		t.Errorf("progress callback ran %d times, want 3", calls)
	}
}

func TestRunPackRebuild(t *testing.T) {
	storeDir := t.TempDir()
	seedStore(t, storeDir)
	cfg := packConfig(t, storeDir)

	if _, err := RunPack(context.Background(), cfg, nil); err != nil {
		t.Fatalf("first pack: %v", err)
	}
	first := queryMetadata(t, cfg.OutputFile)
	firstTiles := queryTiles(t, cfg.OutputFile)

	stats, err := RunPack(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("second pack: %v", err)
	}
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d on rebuild, want 3", stats.Inserted)
	}

	second := queryMetadata(t, cfg.OutputFile)
	for _, key := range []string{"name", "bounds", "center", "minzoom", "maxzoom", "tilestats"} {
		if first[key] != second[key] {
			t.Errorf("metadata %q changed across rebuilds: %q vs %q", key, first[key], second[key])
		}
	}

	secondTiles := queryTiles(t, cfg.OutputFile)
	if len(secondTiles) != len(firstTiles) {
		t.Fatalf("rebuild holds %d tiles, want %d", len(secondTiles), len(firstTiles))
	}
	for key, data := range firstTiles {
		if !bytes.Equal(secondTiles[key], data) {
			t.Errorf("tile %s payload changed across rebuilds", key)
		}
	}
}
