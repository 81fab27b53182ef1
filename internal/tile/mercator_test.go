package tile

import (
	"math"
	"testing"
)

func TestLonLatToMeters(t *testing.T) {
	const eps = 1e-6

	// Scheme corners map to the mercator extent
	x, _ := LonLatToMeters(180, 0)
	if math.Abs(x-maxExtent) > eps {
		t.Errorf("expected x %f for lon 180, got %f", maxExtent, x)
	}

	x, y := LonLatToMeters(0, 0)
	if math.Abs(x) > eps || math.Abs(y) > eps {
		t.Errorf("expected origin, got (%f, %f)", x, y)
	}

	// Round trip over coastal coordinates
	coords := []struct{ lon, lat float64 }{
		{-4.5, 48.0},
		{2.0, 50.0},
		{-5.0, 47.0},
		{7.4246, 43.7384},
	}
	for _, c := range coords {
		mx, my := LonLatToMeters(c.lon, c.lat)
		lon, lat := MetersToLonLat(mx, my)
		if math.Abs(lon-c.lon) > eps || math.Abs(lat-c.lat) > eps {
			t.Errorf("round trip (%f, %f) = (%f, %f)", c.lon, c.lat, lon, lat)
		}
	}
}

func TestResolutionAt(t *testing.T) {
	const eps = 1e-6

	// One tile covers the full equator at zoom 0
	equator := ResolutionAt(0, 0)
	want := 2.0 * math.Pi * earthRadius / 256.0
	if math.Abs(equator-want) > eps {
		t.Errorf("equator resolution at zoom 0 = %f, want %f", equator, want)
	}

	// Each zoom level halves the resolution
	for z := 1; z <= 14; z++ {
		r := ResolutionAt(0, z)
		prev := ResolutionAt(0, z-1)
		if math.Abs(r*2-prev) > eps {
			t.Errorf("zoom %d resolution %f is not half of %f", z, r, prev)
		}
	}

	// Resolution shrinks with the cosine of the latitude
	at60 := ResolutionAt(60, 4)
	if math.Abs(at60-equator/16.0/2.0) > eps {
		t.Errorf("resolution at lat 60 zoom 4 = %f, want %f", at60, equator/32.0)
	}
}
