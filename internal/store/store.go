package store

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// Store is a directory tile store laid out <root>/<zoom>/<col>/<row>.<format>
type Store struct {
	root   string
	format string
}

// New opens a store rooted at root for tiles in the given image format.
// An empty format defaults to png. The directory itself is created lazily on
// the first write.
func New(root, format string) *Store {
	if format == "" {
		format = "png"
	}
	return &Store{root: root, format: format}
}

// Root returns the store's root directory
func (s *Store) Root() string {
	return s.root
}

// Format returns the store's tile file extension
func (s *Store) Format() string {
	return s.format
}

// Path returns the artifact path for a tile
func (s *Store) Path(t tile.Tile) string {
	return filepath.Join(s.root,
		strconv.Itoa(t.Z),
		strconv.Itoa(t.Col),
		fmt.Sprintf("%d.%s", t.Row, s.format))
}

// Write stores a tile payload, creating directories as needed
func (s *Store) Write(t tile.Tile, data []byte) error {
	path := s.Path(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", t, err)
	}
	return nil
}

// ZoomStats describes what a scan found at one zoom level
type ZoomStats struct {
	Rect  tile.Rect // Extent of the tiles present
	Count int64     // Number of artifacts, which may be fewer than Rect covers
}

// Scan walks the store and reports per-zoom tile extents and counts. Path
// segments that do not look like tile coordinates are skipped silently;
// only what is actually on disk counts. A missing root yields an empty
// result, not an error.
func (s *Store) Scan() (map[int]ZoomStats, error) {
	stats := make(map[int]ZoomStats)

	zoomEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, fmt.Errorf("failed to read store root: %w", err)
	}

	ext := "." + s.format
	for _, ze := range zoomEntries {
		if !ze.IsDir() {
			continue
		}
		z, err := strconv.Atoi(ze.Name())
		if err != nil {
			continue
		}

		colEntries, err := os.ReadDir(filepath.Join(s.root, ze.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read zoom directory %s: %w", ze.Name(), err)
		}

		for _, ce := range colEntries {
			if !ce.IsDir() {
				continue
			}
			col, err := strconv.Atoi(ce.Name())
			if err != nil {
				continue
			}

			rowEntries, err := os.ReadDir(filepath.Join(s.root, ze.Name(), ce.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read column directory %s/%s: %w", ze.Name(), ce.Name(), err)
			}

			for _, re := range rowEntries {
				if re.IsDir() || !strings.HasSuffix(re.Name(), ext) {
					continue
				}
				row, err := strconv.Atoi(strings.TrimSuffix(re.Name(), ext))
				if err != nil {
					continue
				}

				st, ok := stats[z]
				if !ok {
					st = ZoomStats{Rect: tile.Rect{
						Z: z, MinCol: col, MaxCol: col, MinRow: row, MaxRow: row,
					}}
				} else {
					if col < st.Rect.MinCol {
						st.Rect.MinCol = col
					}
					if col > st.Rect.MaxCol {
						st.Rect.MaxCol = col
					}
					if row < st.Rect.MinRow {
						st.Rect.MinRow = row
					}
					if row > st.Rect.MaxRow {
						st.Rect.MaxRow = row
					}
				}
				st.Count++
				stats[z] = st
			}
		}
	}

	return stats, nil
}

// Rects returns the scanned per-zoom extents in ascending zoom order
func Rects(stats map[int]ZoomStats) []tile.Rect {
	zooms := make([]int, 0, len(stats))
	for z := range stats {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	rects := make([]tile.Rect, 0, len(zooms))
	for _, z := range zooms {
		rects = append(rects, stats[z].Rect)
	}
	return rects
}

// Tiles iterates over every tile artifact in the store in ascending zoom,
// column, row order, yielding the tile and its path. Directory names sort
// numerically, not lexically, so column 9 comes before column 10.
func (s *Store) Tiles() iter.Seq2[tile.Tile, string] {
	return func(yield func(tile.Tile, string) bool) {
		ext := "." + s.format

		for _, z := range sortedNumericDirs(s.root) {
			zoomDir := filepath.Join(s.root, strconv.Itoa(z))

			for _, col := range sortedNumericDirs(zoomDir) {
				colDir := filepath.Join(zoomDir, strconv.Itoa(col))

				entries, err := os.ReadDir(colDir)
				if err != nil {
					continue
				}
				rows := make([]int, 0, len(entries))
				for _, e := range entries {
					if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
						continue
					}
					row, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ext))
					if err != nil {
						continue
					}
					rows = append(rows, row)
				}
				sort.Ints(rows)

				for _, row := range rows {
					t := tile.Tile{Z: z, Col: col, Row: row}
					path := filepath.Join(colDir, fmt.Sprintf("%d%s", row, ext))
					if !yield(t, path) {
						return
					}
				}
			}
		}
	}
}

// sortedNumericDirs returns the numeric subdirectory names of dir in
// ascending order, skipping everything else
func sortedNumericDirs(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	nums := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
