package wmts

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// Source describes a tile endpoint, either a WMTS KVP service (BaseURL plus
// layer/style/matrix set) or a plain XYZ service (URLTemplate with {z}, {x}
// and {y} placeholders).
type Source struct {
	Name        string `yaml:"name"`
	BaseURL     string `yaml:"base_url,omitempty"`
	URLTemplate string `yaml:"url_template,omitempty"`
	Layer       string `yaml:"layer,omitempty"`
	Style       string `yaml:"style,omitempty"`
	MatrixSet   string `yaml:"matrix_set,omitempty"`
	Format      string `yaml:"format,omitempty"` // Tile image format: png, jpg or webp
	Title       string `yaml:"title,omitempty"`
	Attribution string `yaml:"attribution,omitempty"`
	Description string `yaml:"description,omitempty"`
	Referer     string `yaml:"referer,omitempty"` // Sent as Referer and Origin when set
}

// MimeType returns the MIME type for the source's tile format
func (s *Source) MimeType() string {
	switch strings.ToLower(s.Format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// TileURL returns the GetTile request URL for a tile
func (s *Source) TileURL(t tile.Tile) string {
	if s.URLTemplate != "" {
		r := strings.NewReplacer(
			"{z}", strconv.Itoa(t.Z),
			"{x}", strconv.Itoa(t.Col),
			"{y}", strconv.Itoa(t.Row),
		)
		return r.Replace(s.URLTemplate)
	}

	// WMTS KVP request. Parameter casing follows what the SHOM service
	// accepts: the standard keys are capitalized, the layer selection keys
	// are not.
	q := url.Values{}
	q.Set("layer", s.Layer)
	q.Set("style", s.Style)
	q.Set("tilematrixset", s.MatrixSet)
	q.Set("Service", "WMTS")
	q.Set("Request", "GetTile")
	q.Set("Version", "1.0.0")
	q.Set("Format", s.MimeType())
	q.Set("TileMatrix", strconv.Itoa(t.Z))
	q.Set("TileCol", strconv.Itoa(t.Col))
	q.Set("TileRow", strconv.Itoa(t.Row))

	return s.BaseURL + "?" + q.Encode()
}

// CapabilitiesURL returns the GetCapabilities request URL
func (s *Source) CapabilitiesURL() string {
	q := url.Values{}
	q.Set("Service", "WMTS")
	q.Set("Request", "GetCapabilities")
	q.Set("Version", "1.0.0")

	return s.BaseURL + "?" + q.Encode()
}

// CheckValid verifies that the source carries enough fields to build tile
// requests from
func (s *Source) CheckValid() error {
	if s.Name == "" {
		return fmt.Errorf("source has no name")
	}
	if s.URLTemplate != "" {
		if !strings.Contains(s.URLTemplate, "{z}") ||
			!strings.Contains(s.URLTemplate, "{x}") ||
			!strings.Contains(s.URLTemplate, "{y}") {
			return fmt.Errorf("source %s: url template must contain {z}, {x} and {y}", s.Name)
		}
		return nil
	}
	if s.BaseURL == "" {
		return fmt.Errorf("source %s: base_url or url_template is required", s.Name)
	}
	if s.Layer == "" {
		return fmt.Errorf("source %s: layer is required for WMTS sources", s.Name)
	}
	return nil
}

// Predefined tile sources
var (
	// SHOM coastal raster charts, the service this tool was built around
	SourceShomMarine = &Source{
		Name:        "shom-marine",
		BaseURL:     "https://services.data.shom.fr/clevisu/wmts",
		Layer:       "RASTER_MARINE_3857_WMTS",
		Style:       "normal",
		MatrixSet:   "3857",
		Format:      "png",
		Title:       "SHOM Marine Charts",
		Attribution: "SHOM - Service Hydrographique et Océanographique de la Marine",
		Description: "Raster marine charts for offline coastal navigation",
		Referer:     "https://data.shom.fr/",
	}

	// OpenSeaMap seamark overlay, served as plain XYZ
	SourceOpenSeaMap = &Source{
		Name:        "openseamap",
		URLTemplate: "https://tiles.openseamap.org/seamark/{z}/{x}/{y}.png",
		Format:      "png",
		Title:       "OpenSeaMap Seamarks",
		Attribution: "© OpenSeaMap contributors",
		Description: "Seamark and harbour overlay tiles",
	}
)

var builtinSources = map[string]*Source{
	SourceShomMarine.Name: SourceShomMarine,
	SourceOpenSeaMap.Name: SourceOpenSeaMap,
}

// ParseSource parses a source string and returns a Source
// Formats:
//   - predefined name: "shom-marine", "openseamap"
//   - XYZ template URL: "https://example.com/tiles/{z}/{x}/{y}.png"
func ParseSource(s string) (*Source, error) {
	s = strings.TrimSpace(s)

	if src, ok := builtinSources[strings.ToLower(s)]; ok {
		return src, nil
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		src := &Source{
			Name:        "custom",
			URLTemplate: s,
			Format:      formatFromTemplate(s),
			Title:       "Custom tile source",
			Description: "Custom XYZ tile source",
		}
		if err := src.CheckValid(); err != nil {
			return nil, fmt.Errorf("%w (WMTS endpoints need a catalog entry carrying layer and matrix set)", err)
		}
		return src, nil
	}

	return nil, fmt.Errorf("unknown tile source: %s", s)
}

// formatFromTemplate guesses the tile format from a template's file extension
func formatFromTemplate(tmpl string) string {
	switch {
	case strings.HasSuffix(tmpl, ".jpg"), strings.HasSuffix(tmpl, ".jpeg"):
		return "jpg"
	case strings.HasSuffix(tmpl, ".webp"):
		return "webp"
	default:
		return "png"
	}
}

// ListSources returns a description line for each predefined source
func ListSources() []string {
	sources := []string{
		fmt.Sprintf("%-12s - %s", SourceShomMarine.Name, SourceShomMarine.Title),
		fmt.Sprintf("%-12s - %s", SourceOpenSeaMap.Name, SourceOpenSeaMap.Title),
	}

	sources = append(sources, "")
	sources = append(sources, "Custom XYZ sources: pass a URL with {z}/{x}/{y} placeholders.")
	sources = append(sources, "Custom WMTS sources: define them in a catalog file (--catalog).")

	return sources
}
