package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/wmts2mbtiles-go/internal/config"
	"github.com/wegman-software/wmts2mbtiles-go/internal/filter"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/metrics"
	"github.com/wegman-software/wmts2mbtiles-go/internal/store"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
	"github.com/wegman-software/wmts2mbtiles-go/internal/wmts"
)

const (
	// progressEvery controls how many tiles pass between progress log lines.
	progressEvery = 100
	// failuresLogged caps per-zoom failure warnings so an unreachable
	// service cannot flood the log. The failure tracker still records all.
	failuresLogged = 5
)

// Coordinator orchestrates the tile fetch across zoom levels.
type Coordinator struct {
	cfg      *config.Config
	source   *wmts.Source
	fetcher  *wmts.Fetcher
	store    *store.Store
	filter   *filter.Runtime
	failures *FailureTracker
}

// NewCoordinator creates a new fetch coordinator
func NewCoordinator(cfg *config.Config) (*Coordinator, error) {
	source, err := wmts.Resolve(cfg.Source, cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tile source: %w", err)
	}

	coord := &Coordinator{
		cfg:      cfg,
		source:   source,
		fetcher:  wmts.NewFetcher(source, cfg.FetchTimeout, cfg.MinTileBytes),
		store:    store.New(cfg.StoreDir, source.Format),
		failures: NewFailureTracker(),
	}

	if cfg.FilterScript != "" {
		rt := filter.NewRuntime()
		if err := rt.LoadFile(cfg.FilterScript); err != nil {
			rt.Close()
			return nil, err
		}
		coord.filter = rt
	}

	return coord, nil
}

// Close cleans up resources
func (c *Coordinator) Close() error {
	if c.filter != nil {
		c.filter.Close()
	}
	return nil
}

// Source returns the resolved tile source.
func (c *Coordinator) Source() *wmts.Source {
	return c.source
}

// Store returns the tile store the coordinator writes into.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Failures returns the failure tracker populated during Run.
func (c *Coordinator) Failures() *FailureTracker {
	return c.failures
}

// Run fetches every tile covering the configured bounding box, zoom level
// by zoom level. Tiles already present in the store are skipped, so an
// interrupted run can be resumed by running again.
func (c *Coordinator) Run(ctx context.Context) (*FetchStats, error) {
	log := logger.Get()

	// Start metrics collection in background if interval is set
	if c.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector := metrics.NewCollector(c.cfg.MetricsInterval, log)
		go collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	bbox := tile.BBox{
		MinLon: c.cfg.BBox.MinLon,
		MinLat: c.cfg.BBox.MinLat,
		MaxLon: c.cfg.BBox.MaxLon,
		MaxLat: c.cfg.BBox.MaxLat,
	}
	rects := tile.RectsForBounds(bbox, c.cfg.MinZoom, c.cfg.MaxZoom)

	stats := &FetchStats{}
	for _, r := range rects {
		stats.Expected += r.Count()
	}

	log.Info("Starting tile fetch",
		zap.String("source", c.source.Name),
		zap.String("bbox", c.cfg.BBox.String()),
		zap.Int("min_zoom", c.cfg.MinZoom),
		zap.Int("max_zoom", c.cfg.MaxZoom),
		zap.Int64("expected_tiles", stats.Expected),
		zap.Int("workers", c.cfg.Workers))

	start := time.Now()
	// Progress is tracked across the whole run, not per zoom level, so
	// the every-100-tiles cadence carries over zoom boundaries.
	tracker := NewProgressTracker(stats.Expected, "fetch")
	var processed atomic.Int64
	for _, r := range rects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		zs, err := c.runZoom(ctx, r, tracker, &processed)
		stats.Downloaded += zs.Downloaded
		stats.Skipped += zs.Skipped
		stats.Filtered += zs.Filtered
		stats.Failed += zs.Failed
		stats.Bytes += zs.Bytes
		if err != nil {
			return stats, err
		}
	}

	manifest := &store.Manifest{
		Source:    c.source.Name,
		Format:    c.store.Format(),
		BBox:      c.cfg.BBox.String(),
		MinZoom:   c.cfg.MinZoom,
		MaxZoom:   c.cfg.MaxZoom,
		Timestamp: time.Now().UTC(),
	}
	if err := store.WriteManifest(c.store.Root(), manifest); err != nil {
		log.Warn("Failed to write store manifest", zap.Error(err))
	}

	if c.cfg.FailuresFile != "" {
		if err := c.failures.WriteToFile(c.cfg.FailuresFile); err != nil {
			log.Warn("Failed to write failures file", zap.Error(err))
		}
	}

	log.Info("Tile fetch complete",
		zap.Int64("downloaded", stats.Downloaded),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("filtered", stats.Filtered),
		zap.Int64("failed", stats.Failed),
		zap.String("volume", FormatBytes(stats.Bytes)),
		zap.String("success_rate", fmt.Sprintf("%.1f%%", stats.SuccessRate()*100)),
		zap.Duration("duration", time.Since(start).Round(time.Second)))

	return stats, nil
}

// runZoom fetches one zoom level with a bounded worker pool. The tracker
// and processed counter are shared by all zoom levels of a run.
func (c *Coordinator) runZoom(ctx context.Context, r tile.Rect, tracker *ProgressTracker, processed *atomic.Int64) (ZoomStats, error) {
	log := logger.Get()

	zs := ZoomStats{Zoom: r.Z, Expected: r.Count()}

	log.Info("Fetching zoom level",
		zap.Int("zoom", r.Z),
		zap.Int("min_col", r.MinCol),
		zap.Int("max_col", r.MaxCol),
		zap.Int("min_row", r.MinRow),
		zap.Int("max_row", r.MaxRow),
		zap.Int64("tiles", zs.Expected))

	var downloaded, skipped, filtered, failed, bytes atomic.Int64

	jobs := make(chan tile.Tile, c.cfg.Workers*2)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			for t := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}

				res := c.fetcher.EnsureTile(gctx, t, c.store.Path(t))
				switch res.Status {
				case wmts.StatusDownloaded:
					downloaded.Add(1)
					bytes.Add(res.Bytes)
				case wmts.StatusExists:
					skipped.Add(1)
				case wmts.StatusFailed:
					c.failures.Add(t, res.Reason)
					if n := failed.Add(1); n <= failuresLogged {
						log.Warn("Tile fetch failed",
							zap.String("tile", t.String()),
							zap.String("reason", res.Reason))
					}
				}

				if n := processed.Add(1); n%progressEvery == 0 {
					p := tracker.Calculate(n)
					log.Info("Fetch progress",
						zap.Int("zoom", r.Z),
						zap.Int64("tiles", p.Current),
						zap.Int64("total", p.Total),
						zap.String("pct", fmt.Sprintf("%.1f%%", p.Percentage)),
						zap.String("rate", FormatThroughput(p.Throughput)),
						zap.String("eta", FormatETA(p.ETA)))
				}
			}
			return nil
		})
	}

	// Producer enumerates the rect and applies the filter at enqueue time.
	// The Lua state is not safe for concurrent use and stays confined to
	// this goroutine.
	g.Go(func() error {
		defer close(jobs)
		for t := range r.All() {
			if c.filter != nil {
				keep, err := c.filter.KeepTile(t)
				if err != nil {
					return err
				}
				if !keep {
					filtered.Add(1)
					processed.Add(1)
					continue
				}
			}
			select {
			case jobs <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()

	zs.Downloaded = downloaded.Load()
	zs.Skipped = skipped.Load()
	zs.Filtered = filtered.Load()
	zs.Failed = failed.Load()
	zs.Bytes = bytes.Load()

	log.Info("Zoom level complete",
		zap.Int("zoom", r.Z),
		zap.Int64("downloaded", zs.Downloaded),
		zap.Int64("skipped", zs.Skipped),
		zap.Int64("filtered", zs.Filtered),
		zap.Int64("failed", zs.Failed),
		zap.String("volume", FormatBytes(zs.Bytes)))

	return zs, err
}
