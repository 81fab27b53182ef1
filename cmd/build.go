package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
)

var buildCmd = &cobra.Command{
	Use:   "build [output.mbtiles]",
	Short: "Fetch tiles and pack them in one run",
	Long: `Run the full chart build: fetch every tile covering the bounding box,
then pack the store into an MBTiles archive.

Equivalent to running fetch followed by pack against the same store.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	addFetchFlags(buildCmd)
	addPackFlags(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	applyAreaFlags()
	if len(args) == 1 {
		cfg.OutputFile = args[0]
	}

	stats := fetchTiles()
	if stats.Downloaded+stats.Skipped == 0 {
		exitWithError("no tiles in the store after fetch, nothing to pack", nil)
	}
	if stats.Failed > 0 {
		logger.Get().Warn("Packing a store with fetch failures, the archive will have holes")
	}

	packStore()
}
