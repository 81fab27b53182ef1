package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/wmts2mbtiles-go/internal/config"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "wmts2mbtiles",
	Short: "Offline raster chart builder for marine navigation",
	Long: `wmts2mbtiles fetches raster tiles from WMTS and XYZ services and packs
them into MBTiles archives for offline navigation apps.

Features:
  - Parallel tile fetching with resume after interruption
  - Content validation before an artifact enters the store
  - Lua filter scripts to trim tiles outside the area of interest
  - Bounds, center and zoom metadata derived from the store itself
  - YAML catalogs for custom WMTS endpoints`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		logger.Init(verbose, logFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfg.StoreDir, "store-dir", "o", cfg.StoreDir, "Directory holding the tile store")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel fetch workers")

	// Source flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfg.Source, "source", "s", cfg.Source, "Tile source name or XYZ URL template")
	rootCmd.PersistentFlags().StringVar(&cfg.CatalogFile, "catalog", "", "YAML catalog of additional tile sources")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (e.g., 10s, 1m)")
}

// exitWithError logs the error and terminates. os.Exit skips deferred
// calls, so the log is flushed here.
func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
