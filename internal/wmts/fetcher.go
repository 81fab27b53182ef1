package wmts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/wmts2mbtiles-go/internal/logger"
	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// Status classifies the outcome of an EnsureTile call
type Status int

const (
	// StatusExists means a plausible artifact was already in place and no
	// request was made
	StatusExists Status = iota
	// StatusDownloaded means the tile was fetched and stored
	StatusDownloaded
	// StatusFailed means the tile could not be obtained; Result.Reason says why
	StatusFailed
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusExists:
		return "exists"
	case StatusDownloaded:
		return "downloaded"
	default:
		return "failed"
	}
}

// Failure reasons reported in Result.Reason. Transport errors are reported
// as "error: <cause>".
const (
	ReasonInvalidResponse = "invalid_response"
	ReasonTimeout         = "timeout"
)

// Result reports what EnsureTile did for one tile
type Result struct {
	Tile   tile.Tile
	Status Status
	Reason string // Failure reason, empty unless Status is StatusFailed
	Bytes  int64  // Size of the artifact on disk
}

// Failed reports whether the tile could not be obtained
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// Fetcher downloads tiles from a source into local artifact files
type Fetcher struct {
	source   *Source
	client   *http.Client
	minBytes int64
	headers  http.Header
}

// NewFetcher creates a fetcher for a tile source. Payloads of minBytes or
// fewer are treated as error pages rather than tiles; zero values fall back
// to a 30 second timeout and a 1000 byte threshold.
func NewFetcher(source *Source, timeout time.Duration, minBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if minBytes <= 0 {
		minBytes = 1000
	}

	return &Fetcher{
		source: source,
		client: &http.Client{
			Timeout: timeout,
		},
		minBytes: minBytes,
		headers:  browserHeaders(source),
	}
}

// Source returns the tile source
func (f *Fetcher) Source() *Source {
	return f.source
}

// browserHeaders builds the request headers once per fetcher. Chart services
// behind map viewers reject clients that do not look like one.
func browserHeaders(source *Source) http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:138.0) Gecko/20100101 Firefox/138.0")
	h.Set("Accept", "image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5")
	h.Set("Accept-Language", "en-US,en;q=0.5")

	if source.Referer != "" {
		h.Set("Referer", source.Referer)
		h.Set("Origin", strings.TrimSuffix(source.Referer, "/"))
	}

	return h
}

// EnsureTile makes sure the artifact for a tile is present at path. A
// plausible existing artifact is kept without touching the network. One
// download attempt is made; there are no retries. A failed attempt never
// leaves a partial file behind.
func (f *Fetcher) EnsureTile(ctx context.Context, t tile.Tile, path string) Result {
	log := logger.Get()

	// Check if already present from an earlier run
	if fi, err := os.Stat(path); err == nil && fi.Size() > f.minBytes {
		log.Debug("Tile already present", zap.String("tile", t.String()))
		return Result{Tile: t, Status: StatusExists, Bytes: fi.Size()}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", err)}
	}

	url := f.source.TileURL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", err)}
	}
	req.Header = f.headers.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Tile: t, Status: StatusFailed, Reason: ReasonTimeout}
		}
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Tile: t, Status: StatusFailed, Reason: ReasonInvalidResponse}
	}

	// Write to a temporary file and rename only after validation, so the
	// store never holds a partial or bogus artifact.
	tmpFile := path + ".tmp"
	out, err := os.Create(tmpFile)
	if err != nil {
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", err)}
	}

	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmpFile)
		if isTimeout(err) {
			return Result{Tile: t, Status: StatusFailed, Reason: ReasonTimeout}
		}
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", err)}
	}
	if closeErr != nil {
		os.Remove(tmpFile)
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", closeErr)}
	}

	if !f.validArtifact(tmpFile, n) {
		os.Remove(tmpFile)
		return Result{Tile: t, Status: StatusFailed, Reason: ReasonInvalidResponse}
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return Result{Tile: t, Status: StatusFailed, Reason: fmt.Sprintf("error: %v", err)}
	}

	log.Debug("Downloaded tile",
		zap.String("tile", t.String()),
		zap.Int64("bytes", n))

	return Result{Tile: t, Status: StatusDownloaded, Bytes: n}
}

// validArtifact checks that a downloaded payload is plausibly a tile image:
// large enough to not be an error page, and carrying the magic bytes of the
// source's format. Anything deeper is the renderer's problem.
func (f *Fetcher) validArtifact(path string, size int64) bool {
	if size <= f.minBytes {
		return false
	}

	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}

	return hasMagic(head[:n], f.source.Format)
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// hasMagic checks the leading bytes against the expected image format
func hasMagic(head []byte, format string) bool {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return bytes.HasPrefix(head, jpegMagic)
	case "webp":
		// RIFF container with a WEBP chunk
		return len(head) >= 12 &&
			bytes.Equal(head[0:4], []byte("RIFF")) &&
			bytes.Equal(head[8:12], []byte("WEBP"))
	default:
		return bytes.HasPrefix(head, pngMagic)
	}
}

// isTimeout reports whether an error is a deadline expiry rather than some
// other transport failure
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Capabilities fetches and parses the source's GetCapabilities document
func (f *Fetcher) Capabilities(ctx context.Context) (*Capabilities, error) {
	if f.source.BaseURL == "" {
		return nil, fmt.Errorf("source %s has no capabilities endpoint", f.source.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source.CapabilitiesURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header = f.headers.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	caps, err := ParseCapabilities(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse capabilities: %w", err)
	}

	return caps, nil
}
