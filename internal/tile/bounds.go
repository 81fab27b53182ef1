package tile

import (
	"errors"

	"github.com/paulmach/orb"
)

// StoreBounds describes the geographic extent of a collection of tiles
type StoreBounds struct {
	Box        BBox
	Center     Point
	CenterZoom int
	MinZoom    int
	MaxZoom    int
}

// DeriveBounds computes the geographic extent covered by a set of per-zoom
// tile rects. Each rect contributes the box between the northwest corner of
// its top-left tile and the southeast corner of its bottom-right tile; the
// result is the union across zoom levels.
//
// The center zoom is two levels above the lowest observed zoom, limited by
// the highest observed zoom.
func DeriveBounds(rects []Rect) (StoreBounds, error) {
	if len(rects) == 0 {
		return StoreBounds{}, errors.New("no tiles to derive bounds from")
	}

	var union orb.Bound
	minZoom, maxZoom := rects[0].Z, rects[0].Z

	for i, r := range rects {
		// The southeast corner of a tile is the northwest corner of its
		// diagonal neighbor, hence the +1 on both axes.
		sw := TileToPoint(r.MinCol, r.MaxRow+1, r.Z)
		ne := TileToPoint(r.MaxCol+1, r.MinRow, r.Z)

		b := orb.Bound{
			Min: orb.Point{sw.Lon, sw.Lat},
			Max: orb.Point{ne.Lon, ne.Lat},
		}
		if i == 0 {
			union = b
		} else {
			union = union.Union(b)
		}

		if r.Z < minZoom {
			minZoom = r.Z
		}
		if r.Z > maxZoom {
			maxZoom = r.Z
		}
	}

	center := union.Center()

	centerZoom := minZoom + 2
	if centerZoom > maxZoom {
		centerZoom = maxZoom
	}

	return StoreBounds{
		Box: BBox{
			MinLon: union.Min[0],
			MinLat: union.Min[1],
			MaxLon: union.Max[0],
			MaxLat: union.Max[1],
		},
		Center:     Point{Lat: center[1], Lon: center[0]},
		CenterZoom: centerZoom,
		MinZoom:    minZoom,
		MaxZoom:    maxZoom,
	}, nil
}
