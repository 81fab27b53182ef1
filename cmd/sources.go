package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/wmts"
)

var probeSource bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List known tile sources",
	Long: `List the builtin tile sources and any sources defined in the catalog
file. With --probe, fetch the configured source's WMTS capabilities
document and check that the layer, style, matrix set and format are
actually served.`,
	Run: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().BoolVar(&probeSource, "probe", false, "Validate the configured source against its capabilities document")
}

func runSources(cmd *cobra.Command, args []string) {
	fmt.Println("Builtin sources:")
	for _, line := range wmts.ListSources() {
		fmt.Println("  " + line)
	}

	if cfg.CatalogFile != "" {
		catalog, err := wmts.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			exitWithError("failed to load catalog", err)
		}
		fmt.Println("Catalog sources:")
		for _, src := range catalog.Sources {
			fmt.Printf("  %-12s - %s\n", src.Name, src.Title)
		}
	}

	if probeSource {
		probe()
	}
}

func probe() {
	log := logger.Get()

	source, err := wmts.Resolve(cfg.Source, cfg.CatalogFile)
	if err != nil {
		exitWithError("failed to resolve tile source", err)
	}

	fetcher := wmts.NewFetcher(source, cfg.FetchTimeout, cfg.MinTileBytes)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	caps, err := fetcher.Capabilities(ctx)
	if err != nil {
		exitWithError("capabilities probe failed", err)
	}
	if err := caps.Validate(source); err != nil {
		exitWithError("source does not match what the service advertises", err)
	}

	log.Info("Source validated against service capabilities",
		zap.String("source", source.Name),
		zap.Int("layers", len(caps.Layers)))
	fmt.Printf("\n%s: OK (service advertises %d layers)\n", source.Name, len(caps.Layers))
}
