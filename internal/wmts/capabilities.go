package wmts

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Layer describes a layer advertised in a WMTS capabilities document
type Layer struct {
	Identifier string
	Title      string
	Formats    []string
	Styles     []string
	MatrixSets []string
}

// MatrixSet describes a tile matrix set advertised in a WMTS capabilities
// document
type MatrixSet struct {
	Identifier string
	Levels     int
}

// Capabilities holds the parts of a GetCapabilities response this tool acts
// on: which layers exist and which matrix sets they are published in.
type Capabilities struct {
	Layers     []Layer
	MatrixSets []MatrixSet
}

// Decoding shapes. The tags use local element names, which match regardless
// of the ows: namespace prefixes services emit.
type layerXML struct {
	Identifier string   `xml:"Identifier"`
	Title      string   `xml:"Title"`
	Formats    []string `xml:"Format"`
	Styles     []struct {
		Identifier string `xml:"Identifier"`
	} `xml:"Style"`
	Links []struct {
		TileMatrixSet string `xml:"TileMatrixSet"`
	} `xml:"TileMatrixSetLink"`
}

type matrixSetXML struct {
	Identifier string `xml:"Identifier"`
	Matrices   []struct {
		Identifier string `xml:"Identifier"`
	} `xml:"TileMatrix"`
}

// ParseCapabilities parses a WMTS GetCapabilities XML document
func ParseCapabilities(r io.Reader) (*Capabilities, error) {
	decoder := xml.NewDecoder(r)
	caps := &Capabilities{}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("XML parse error: %w", err)
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		// Layer subtrees are consumed whole, so the TileMatrixSet elements
		// seen here are only the top-level definitions, not the links
		// inside layers.
		switch se.Name.Local {
		case "Layer":
			var lx layerXML
			if err := decoder.DecodeElement(&lx, &se); err != nil {
				return nil, fmt.Errorf("failed to decode layer: %w", err)
			}
			layer := Layer{
				Identifier: lx.Identifier,
				Title:      lx.Title,
				Formats:    lx.Formats,
			}
			for _, s := range lx.Styles {
				layer.Styles = append(layer.Styles, s.Identifier)
			}
			for _, l := range lx.Links {
				layer.MatrixSets = append(layer.MatrixSets, l.TileMatrixSet)
			}
			caps.Layers = append(caps.Layers, layer)

		case "TileMatrixSet":
			var mx matrixSetXML
			if err := decoder.DecodeElement(&mx, &se); err != nil {
				return nil, fmt.Errorf("failed to decode tile matrix set: %w", err)
			}
			caps.MatrixSets = append(caps.MatrixSets, MatrixSet{
				Identifier: mx.Identifier,
				Levels:     len(mx.Matrices),
			})
		}
	}

	return caps, nil
}

// FindLayer returns the layer with the given identifier, or nil
func (c *Capabilities) FindLayer(identifier string) *Layer {
	for i := range c.Layers {
		if c.Layers[i].Identifier == identifier {
			return &c.Layers[i]
		}
	}
	return nil
}

// Validate checks that a source's layer, format and matrix set are actually
// advertised by the service
func (c *Capabilities) Validate(s *Source) error {
	layer := c.FindLayer(s.Layer)
	if layer == nil {
		available := make([]string, 0, len(c.Layers))
		for _, l := range c.Layers {
			available = append(available, l.Identifier)
		}
		return fmt.Errorf("layer %q not advertised by service (available: %s)",
			s.Layer, strings.Join(available, ", "))
	}

	mime := s.MimeType()
	formatOK := false
	for _, f := range layer.Formats {
		if f == mime {
			formatOK = true
			break
		}
	}
	if !formatOK {
		return fmt.Errorf("layer %q does not serve %s (serves: %s)",
			s.Layer, mime, strings.Join(layer.Formats, ", "))
	}

	if len(layer.Styles) > 0 && s.Style != "" {
		styleOK := false
		for _, st := range layer.Styles {
			if st == s.Style {
				styleOK = true
				break
			}
		}
		if !styleOK {
			return fmt.Errorf("layer %q has no style %q (has: %s)",
				s.Layer, s.Style, strings.Join(layer.Styles, ", "))
		}
	}

	if len(layer.MatrixSets) > 0 {
		setOK := false
		for _, ms := range layer.MatrixSets {
			if ms == s.MatrixSet {
				setOK = true
				break
			}
		}
		if !setOK {
			return fmt.Errorf("layer %q is not published in matrix set %q (published in: %s)",
				s.Layer, s.MatrixSet, strings.Join(layer.MatrixSets, ", "))
		}
	}

	return nil
}
