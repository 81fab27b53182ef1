package main

import (
	"os"

	"github.com/wegman-software/wmts2mbtiles-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
