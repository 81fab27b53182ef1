package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/wmts2mbtiles-go/internal/config"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/mbtiles"
	"github.com/wegman-software/wmts2mbtiles-go/internal/store"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
	"github.com/wegman-software/wmts2mbtiles-go/internal/wmts"
)

// PackStats holds statistics from packing a store into an archive.
type PackStats struct {
	Found    int64
	Inserted int64
	Skipped  int64
	Failed   int64
	Bounds   tile.StoreBounds
}

// RunPack scans the tile store and packs every artifact into a fresh
// MBTiles archive at cfg.OutputFile. The progress callback, when not
// nil, runs once per inserted tile.
func RunPack(ctx context.Context, cfg *config.Config, progress func()) (*PackStats, error) {
	log := logger.Get()

	manifest, err := store.ReadManifest(cfg.StoreDir)
	if err != nil {
		log.Warn("Unreadable store manifest", zap.Error(err))
		manifest = nil
	}

	// The manifest written by the fetch run names the source that filled
	// the store. Without one, fall back to the configured source.
	sourceName := cfg.Source
	format := ""
	if manifest != nil {
		sourceName = manifest.Source
		format = manifest.Format
	}
	source, err := wmts.Resolve(sourceName, cfg.CatalogFile)
	if err != nil {
		source = nil
	}
	if format == "" && source != nil {
		format = source.Format
	}

	st := store.New(cfg.StoreDir, format)

	zoomStats, err := st.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan tile store: %w", err)
	}
	rects := store.Rects(zoomStats)
	if len(rects) == 0 {
		return nil, mbtiles.ErrNoTiles
	}

	bounds, err := tile.DeriveBounds(rects)
	if err != nil {
		return nil, err
	}

	var found int64
	for _, zs := range zoomStats {
		found += zs.Count
	}

	log.Info("Packing tile store",
		zap.String("store", st.Root()),
		zap.String("output", cfg.OutputFile),
		zap.Int("min_zoom", bounds.MinZoom),
		zap.Int("max_zoom", bounds.MaxZoom),
		zap.Int64("tiles", found),
		zap.Float64("west", bounds.Box.MinLon),
		zap.Float64("south", bounds.Box.MinLat),
		zap.Float64("east", bounds.Box.MaxLon),
		zap.Float64("north", bounds.Box.MaxLat))

	w, err := mbtiles.NewWriter(cfg.OutputFile, mbtiles.WithProgress(progress))
	if err != nil {
		return nil, err
	}
	defer w.Close()

	// A bad artifact must not sink the whole archive. Log it, count it,
	// move on; the summary reports inserted against found.
	var failed int64
	for t, path := range st.Tiles() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Unreadable tile artifact",
				zap.String("path", path),
				zap.Error(err))
			failed++
			continue
		}
		if err := w.AddTile(t, data); err != nil {
			log.Warn("Failed to insert tile",
				zap.String("tile", t.String()),
				zap.Error(err))
			failed++
		}
	}

	md := buildMetadata(cfg, source, sourceName, st.Format(), bounds, w.Inserted())
	if err := w.WriteMetadata(md); err != nil {
		return nil, err
	}
	if err := w.Finalize(); err != nil {
		return nil, err
	}

	// Every artifact found during the scan may still have been rejected
	// as undersized. An archive with zero tiles is useless, remove it.
	if w.Inserted() == 0 {
		os.Remove(cfg.OutputFile)
		return nil, mbtiles.ErrNoTiles
	}

	stats := &PackStats{
		Found:    found,
		Inserted: w.Inserted(),
		Skipped:  w.Skipped(),
		Failed:   failed,
		Bounds:   bounds,
	}

	log.Info("Archive complete",
		zap.String("file", cfg.OutputFile),
		zap.Int64("inserted", stats.Inserted),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
		zap.String("center", fmt.Sprintf("%.5f,%.5f", bounds.Center.Lon, bounds.Center.Lat)),
		zap.Int("center_zoom", bounds.CenterZoom))

	return stats, nil
}

// buildMetadata assembles the archive metadata. Explicit config values
// win over what the resolved source advertises.
func buildMetadata(cfg *config.Config, source *wmts.Source, sourceName, format string, bounds tile.StoreBounds, inserted int64) mbtiles.Metadata {
	name := cfg.Name
	if name == "" && source != nil {
		name = source.Title
	}
	if name == "" {
		name = "Tile Archive"
	}

	attribution := cfg.Attribution
	if attribution == "" && source != nil {
		attribution = source.Attribution
	}

	description := cfg.Description
	if description == "" {
		description = fmt.Sprintf("%s covering %.2f°-%.2f°N, %.2f°-%.2f°E",
			name, bounds.Box.MinLat, bounds.Box.MaxLat, bounds.Box.MinLon, bounds.Box.MaxLon)
	}

	layer := "tiles"
	if sourceName != "" {
		layer = strings.ReplaceAll(strings.ToLower(sourceName), "-", "_")
	}

	return mbtiles.Metadata{
		Name:        name,
		Format:      format,
		MinZoom:     bounds.MinZoom,
		MaxZoom:     bounds.MaxZoom,
		Bounds:      bounds.Box,
		Center:      bounds.Center,
		CenterZoom:  bounds.CenterZoom,
		Attribution: attribution,
		Description: description,
		TileCount:   inserted,
		LayerName:   layer,
	}
}
