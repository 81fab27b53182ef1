package mbtiles

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// ErrNoTiles is returned when an archive would contain zero tiles.
var ErrNoTiles = errors.New("no tiles found in store")

// defaultMinSize rejects artifacts too small to be a real raster tile.
const defaultMinSize = 100

const schemaSQL = `
CREATE TABLE metadata (
	name TEXT,
	value TEXT,
	PRIMARY KEY (name)
);
CREATE TABLE tiles (
	zoom_level INTEGER,
	tile_column INTEGER,
	tile_row INTEGER,
	tile_data BLOB,
	PRIMARY KEY (zoom_level, tile_column, tile_row)
);
`

// Writer builds an MBTiles archive from raster tile artifacts.
//
// Tiles arrive in the XYZ scheme and are stored flipped to TMS rows as
// the format requires. All inserts run inside a single transaction that
// commits in Finalize.
type Writer struct {
	db   *sql.DB
	tx   *sql.Tx
	stmt *sql.Stmt
	path string

	minSize  int64
	progress func()

	inserted int64
	skipped  int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithMinSize overrides the minimum artifact size accepted by AddTile.
func WithMinSize(n int64) Option {
	return func(w *Writer) {
		w.minSize = n
	}
}

// WithProgress registers a callback invoked after every inserted tile.
func WithProgress(fn func()) Option {
	return func(w *Writer) {
		w.progress = fn
	}
}

// NewWriter creates a fresh archive at path, replacing any existing file.
func NewWriter(path string, opts ...Option) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing archive: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	w := &Writer{
		db:      db,
		path:    path,
		minSize: defaultMinSize,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.init(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) init() error {
	if _, err := w.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}

	w.tx = tx
	w.stmt = stmt
	return nil
}

// AddTile inserts one tile artifact. Undersized artifacts are counted
// and skipped without failing the archive.
func (w *Writer) AddTile(t tile.Tile, data []byte) error {
	if int64(len(data)) < w.minSize {
		w.skipped++
		logger.Get().Warn("Skipping undersized tile artifact",
			zap.String("tile", t.String()),
			zap.Int("bytes", len(data)))
		return nil
	}

	row := tile.FlipRow(t.Z, t.Row)
	if _, err := w.stmt.Exec(t.Z, t.Col, row, data); err != nil {
		return fmt.Errorf("failed to insert tile %s: %w", t, err)
	}

	w.inserted++
	if w.progress != nil {
		w.progress()
	}
	return nil
}

// WriteMetadata stores the metadata rows. Call once per archive.
func (w *Writer) WriteMetadata(md Metadata) error {
	rows, err := md.Rows()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := w.tx.Exec(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`, row[0], row[1]); err != nil {
			return fmt.Errorf("failed to write metadata %q: %w", row[0], err)
		}
	}
	return nil
}

// Finalize creates the tile index and commits the transaction.
func (w *Writer) Finalize() error {
	if _, err := w.tx.Exec(`CREATE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row)`); err != nil {
		return fmt.Errorf("failed to create tile index: %w", err)
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	w.stmt = nil
	w.tx = nil
	return nil
}

// Close releases the database handle. Safe after Finalize; without a
// prior Finalize any pending inserts are rolled back.
func (w *Writer) Close() error {
	var errs []error
	if w.stmt != nil {
		errs = append(errs, w.stmt.Close())
	}
	if w.tx != nil {
		errs = append(errs, w.tx.Rollback())
	}
	errs = append(errs, w.db.Close())
	return errors.Join(errs...)
}

// Path returns the archive location.
func (w *Writer) Path() string {
	return w.path
}

// Inserted reports how many tiles were written.
func (w *Writer) Inserted() int64 {
	return w.inserted
}

// Skipped reports how many undersized artifacts were rejected.
func (w *Writer) Skipped() int64 {
	return w.skipped
}
