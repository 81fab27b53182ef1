package wmts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog holds user-defined tile sources loaded from a YAML file
type Catalog struct {
	Sources []*Source `yaml:"sources"`
}

// LoadCatalog loads a source catalog from a YAML file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	for _, src := range catalog.Sources {
		// Fill in the fields most WMTS services agree on
		if src.Style == "" {
			src.Style = "normal"
		}
		if src.MatrixSet == "" {
			src.MatrixSet = "3857"
		}
		if src.Format == "" {
			src.Format = "png"
		}
		if err := src.CheckValid(); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}

	return &catalog, nil
}

// Get returns the named source from the catalog, or nil
func (c *Catalog) Get(name string) *Source {
	for _, src := range c.Sources {
		if src.Name == name {
			return src
		}
	}
	return nil
}

// Resolve finds a tile source by name. Catalog entries take precedence over
// predefined sources, so a catalog can override a builtin; anything else is
// handed to ParseSource.
func Resolve(name, catalogFile string) (*Source, error) {
	if catalogFile != "" {
		catalog, err := LoadCatalog(catalogFile)
		if err != nil {
			return nil, err
		}
		if src := catalog.Get(name); src != nil {
			return src, nil
		}
	}

	return ParseSource(name)
}
