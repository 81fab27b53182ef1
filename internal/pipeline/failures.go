package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// Failure records one tile that could not be fetched.
type Failure struct {
	Tile   tile.Tile
	Reason string
}

// FailureTracker collects fetch failures across workers.
// Re-fetching a tile overwrites its previous failure entry.
type FailureTracker struct {
	mu       sync.Mutex
	failures map[string]Failure
}

// NewFailureTracker creates a new failure tracker
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{
		failures: make(map[string]Failure),
	}
}

// Add records a failed tile (thread-safe, deduplicated by tile key)
func (t *FailureTracker) Add(tl tile.Tile, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[tl.Key()] = Failure{Tile: tl, Reason: reason}
}

// Count returns the number of unique failed tiles
func (t *FailureTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures)
}

// CountByZoom returns the count of failed tiles at each zoom level
func (t *FailureTracker) CountByZoom() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[int]int)
	for _, f := range t.failures {
		counts[f.Tile.Z]++
	}
	return counts
}

// Failures returns all recorded failures sorted by zoom, column, row
func (t *FailureTracker) Failures() []Failure {
	t.mu.Lock()
	defer t.mu.Unlock()

	failures := make([]Failure, 0, len(t.failures))
	for _, f := range t.failures {
		failures = append(failures, f)
	}

	sort.Slice(failures, func(i, j int) bool {
		a, b := failures[i].Tile, failures[j].Tile
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Col != b.Col {
			return a.Col < b.Col
		}
		return a.Row < b.Row
	})

	return failures
}

// Clear removes all recorded failures
func (t *FailureTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = make(map[string]Failure)
}

// WriteToFile writes failures to a file, one "z/col/row reason" line each
func (t *FailureTracker) WriteToFile(filename string) error {
	log := logger.Get()

	failures := t.Failures()
	if len(failures) == 0 {
		log.Info("No fetch failures to report")
		return nil
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create failures file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, failure := range failures {
		fmt.Fprintf(w, "%s %s\n", failure.Tile, failure.Reason)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write failures file: %w", err)
	}

	counts := t.CountByZoom()
	zoomFields := make([]zap.Field, 0, len(counts)+1)
	zoomFields = append(zoomFields, zap.String("file", filename))
	for z, count := range counts {
		zoomFields = append(zoomFields, zap.Int(fmt.Sprintf("zoom_%d", z), count))
	}
	log.Info("Fetch failures written", zoomFields...)

	return nil
}
