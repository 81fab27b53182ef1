package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Manifest records what a fetch run put into a store, so a later packaging
// run knows the source and coverage without being told again
type Manifest struct {
	Source    string
	Format    string
	BBox      string // "minlon,minlat,maxlon,maxlat"
	MinZoom   int
	MaxZoom   int
	Timestamp time.Time
}

const manifestName = "store.state"

// ParseManifest parses manifest content
// Format:
//
//	# comment line
//	source=shom-marine
//	minzoom=8
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "source":
			m.Source = value

		case "format":
			m.Format = value

		case "bbox":
			m.BBox = value

		case "minzoom":
			z, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid minzoom: %w", err)
			}
			m.MinZoom = z

		case "maxzoom":
			z, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid maxzoom: %w", err)
			}
			m.MaxZoom = z

		case "timestamp":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q: %w", value, err)
			}
			m.Timestamp = t
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	return m, nil
}

// ReadManifest loads the manifest from a store root. A store without a
// manifest returns nil without error; stores can be populated out of band.
func ReadManifest(root string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(root, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	return ParseManifest(f)
}

// WriteManifest writes a manifest into a store root
func WriteManifest(root string, m *Manifest) error {
	f, err := os.Create(filepath.Join(root, manifestName))
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# wmts2mbtiles store manifest\n")
	fmt.Fprintf(w, "source=%s\n", m.Source)
	fmt.Fprintf(w, "format=%s\n", m.Format)
	fmt.Fprintf(w, "bbox=%s\n", m.BBox)
	fmt.Fprintf(w, "minzoom=%d\n", m.MinZoom)
	fmt.Fprintf(w, "maxzoom=%d\n", m.MaxZoom)
	fmt.Fprintf(w, "timestamp=%s\n", m.Timestamp.UTC().Format(time.RFC3339))

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
