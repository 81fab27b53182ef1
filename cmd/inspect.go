package cmd

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/pipeline"
	"github.com/wegman-software/wmts2mbtiles-go/internal/store"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report what the tile store holds",
	Long: `Scan the tile store and report per-zoom coverage, the derived
geographic bounds, and the manifest left by the last fetch run.`,
	Run: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) {
	log := logger.Get()

	manifest, err := store.ReadManifest(cfg.StoreDir)
	if err != nil {
		log.Warn("Unreadable store manifest", zap.Error(err))
		manifest = nil
	}

	format := ""
	if manifest != nil {
		format = manifest.Format
	}
	st := store.New(cfg.StoreDir, format)

	zoomStats, err := st.Scan()
	if err != nil {
		exitWithError("failed to scan tile store", err)
	}
	rects := store.Rects(zoomStats)
	if len(rects) == 0 {
		fmt.Printf("Store %s holds no tiles\n", st.Root())
		return
	}

	bounds, err := tile.DeriveBounds(rects)
	if err != nil {
		exitWithError("failed to derive bounds", err)
	}

	fmt.Printf("Store:  %s\n", st.Root())
	if manifest != nil {
		fmt.Printf("Source: %s (fetched %s)\n", manifest.Source, manifest.Timestamp.Format(time.RFC3339))
	}
	fmt.Printf("Format: %s\n", st.Format())
	fmt.Printf("Bounds: %.6f,%.6f,%.6f,%.6f\n",
		bounds.Box.MinLon, bounds.Box.MinLat, bounds.Box.MaxLon, bounds.Box.MaxLat)
	fmt.Printf("Center: %.6f,%.6f (zoom %d)\n",
		bounds.Center.Lon, bounds.Center.Lat, bounds.CenterZoom)
	width, height := groundExtentKm(bounds)
	fmt.Printf("Extent: %.0f x %.0f km\n", width, height)

	fmt.Println("Zoom levels:")
	var total int64
	for _, r := range rects {
		zs := zoomStats[r.Z]
		coverage := float64(zs.Count) / float64(r.Count()) * 100
		resolution := tile.ResolutionAt(bounds.Center.Lat, r.Z)
		fmt.Printf("  z%-2d  cols %d-%d  rows %d-%d  %d/%d tiles (%.1f%%)  %.1f m/px\n",
			r.Z, r.MinCol, r.MaxCol, r.MinRow, r.MaxRow,
			zs.Count, r.Count(), coverage, resolution)
		total += zs.Count
	}
	fmt.Printf("Total:  %d tiles", total)
	if total > 0 {
		fmt.Printf(" (~%s as an archive)", pipeline.FormatBytes(estimateArchiveSize(total)))
	}
	fmt.Println()
}

// groundExtentKm approximates the covered area's width and height in
// kilometers. Mercator meters overstate ground distance by the secant of
// the latitude, so both axes are scaled back at the center latitude.
func groundExtentKm(bounds tile.StoreBounds) (width, height float64) {
	x1, y1 := tile.LonLatToMeters(bounds.Box.MinLon, bounds.Box.MinLat)
	x2, y2 := tile.LonLatToMeters(bounds.Box.MaxLon, bounds.Box.MaxLat)
	scale := math.Cos(bounds.Center.Lat * math.Pi / 180)
	return (x2 - x1) * scale / 1000, (y2 - y1) * scale / 1000
}

// estimateArchiveSize guesses the packed size from a typical coastal
// raster tile of around 25 KB.
func estimateArchiveSize(tiles int64) int64 {
	const avgTileBytes = 25 * 1024
	return tiles * avgTileBytes
}
