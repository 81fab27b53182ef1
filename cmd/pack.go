package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/mbtiles"
	"github.com/wegman-software/wmts2mbtiles-go/internal/pipeline"
)

var packCmd = &cobra.Command{
	Use:   "pack [output.mbtiles]",
	Short: "Pack the tile store into an MBTiles archive",
	Long: `Scan the tile store, derive bounds and zoom metadata from what it
holds, and pack every artifact into a single MBTiles archive.

The archive is rebuilt from scratch on every run. Artifacts too small
to be real tiles are skipped with a warning.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	addPackFlags(packCmd)
}

// addPackFlags binds the metadata override flags. The build command
// reuses the same set.
func addPackFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Name, "name", "", "Tileset name written to the archive metadata")
	cmd.Flags().StringVar(&cfg.Attribution, "attribution", "", "Attribution written to the archive metadata")
	cmd.Flags().StringVar(&cfg.Description, "description", "", "Description written to the archive metadata")
}

func runPack(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		cfg.OutputFile = args[0]
	}
	packStore()
}

// packStore packs the store into cfg.OutputFile with a progress bar on
// the terminal. It exits the process on failure.
func packStore() *pipeline.PackStats {
	log := logger.Get()

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

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("packing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tiles"),
	)

	stats, err := pipeline.RunPack(ctx, cfg, func() {
		bar.Add(1)
	})
	bar.Finish()
	fmt.Println()
	if err != nil {
		if errors.Is(err, mbtiles.ErrNoTiles) {
			exitWithError("nothing to pack, the tile store holds no tiles", err)
		}
		exitWithError("pack failed", err)
	}

	log.Info("MBTiles archive written",
		zap.String("file", cfg.OutputFile),
		zap.Int64("tiles", stats.Inserted),
		zap.Int64("skipped", stats.Skipped),
		zap.Int("min_zoom", stats.Bounds.MinZoom),
		zap.Int("max_zoom", stats.Bounds.MaxZoom))
	if stats.Failed > 0 {
		log.Warn("Some artifacts could not be packed",
			zap.Int64("failed", stats.Failed))
	}

	return stats
}
