package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/wmts2mbtiles-go/internal/config"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/pipeline"
)

var (
	bboxStr string
	zoomStr string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download tiles covering a bounding box into the store",
	Long: `Download every tile covering the bounding box across the requested zoom
levels into the tile store directory.

Tiles already present in the store are skipped, so an interrupted fetch
resumes from where it stopped. Responses are validated for size and
image signature before an artifact is kept; failures are recorded and
can be written to a report file.`,
	Run: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	addFetchFlags(fetchCmd)
}

// addFetchFlags binds the acquisition flags. The build command reuses
// the same set.
func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&bboxStr, "bbox", "b", "", "Bounding box to cover: minlon,minlat,maxlon,maxlat")
	cmd.Flags().StringVarP(&zoomStr, "zoom", "z", "", "Zoom range, e.g. 8-14, or a single level")
	cmd.Flags().DurationVar(&cfg.FetchTimeout, "timeout", cfg.FetchTimeout, "HTTP timeout per tile request")
	cmd.Flags().Int64Var(&cfg.MinTileBytes, "min-tile-bytes", cfg.MinTileBytes, "Smallest payload accepted as a real tile")
	cmd.Flags().StringVar(&cfg.FilterScript, "filter", "", "Lua script deciding which tiles to fetch")
	cmd.Flags().StringVar(&cfg.FailuresFile, "failures-file", "", "Write failed tiles to this file, one z/col/row per line")
}

// applyAreaFlags parses the bbox and zoom flags into the configuration.
func applyAreaFlags() {
	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}
	if zoomStr != "" {
		minZoom, maxZoom, err := config.ParseZoomRange(zoomStr)
		if err != nil {
			exitWithError("invalid zoom range", err)
		}
		cfg.MinZoom = minZoom
		cfg.MaxZoom = maxZoom
	}
}

func runFetch(cmd *cobra.Command, args []string) {
	applyAreaFlags()
	fetchTiles()
}

// fetchTiles runs the fetch pipeline with graceful shutdown on SIGINT
// and SIGTERM. It exits the process on failure.
func fetchTiles() *pipeline.FetchStats {
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	coordinator, err := pipeline.NewCoordinator(cfg)
	if err != nil {
		exitWithError("failed to create fetch pipeline", err)
	}
	defer coordinator.Close()

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	totalStart := time.Now()
	stats, err := coordinator.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Fetch interrupted, completed tiles stay in the store and the next run resumes",
				zap.Int64("downloaded", stats.Downloaded),
				zap.Int64("skipped", stats.Skipped))
			logger.Sync()
			os.Exit(1)
		}
		exitWithError("fetch failed", err)
	}

	log.Info("Fetch complete",
		zap.Duration("total_time", time.Since(totalStart).Round(time.Second)),
		zap.Int64("expected", stats.Expected),
		zap.Int64("downloaded", stats.Downloaded),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("filtered", stats.Filtered),
		zap.Int64("failed", stats.Failed),
		zap.String("volume", pipeline.FormatBytes(stats.Bytes)))

	return stats
}
