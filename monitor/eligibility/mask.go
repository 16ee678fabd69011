package eligibility

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/example/go-itslive/monitor/scene"
)

// Mask is the set of land-ice tiles and regions a scene must touch.
type Mask struct {
	tiles   map[string]struct{}
	regions []orb.Polygon
}

// NewMask builds a mask from tile identifiers and optional region polygons.
// Tile identifiers are compared case-insensitively.
func NewMask(tiles []string, regions ...orb.Polygon) *Mask {
	m := &Mask{tiles: make(map[string]struct{}, len(tiles))}
	for _, tile := range tiles {
		if tile = strings.ToUpper(strings.TrimSpace(tile)); tile != "" {
			m.tiles[tile] = struct{}{}
		}
	}
	for _, region := range regions {
		if len(region) > 0 {
			m.regions = append(m.regions, region.Clone())
		}
	}
	return m
}

// Empty reports whether the mask has no tiles and no regions.
func (m *Mask) Empty() bool {
	return m == nil || (len(m.tiles) == 0 && len(m.regions) == 0)
}

// Covers reports whether the scene touches the mask. decided is false when the
// scene carries neither a tile nor a footprint to test.
func (m *Mask) Covers(s scene.Descriptor) (covered, decided bool) {
	if m.Empty() {
		return true, true
	}
	tile := strings.ToUpper(s.Tile())
	if tile != "" && len(m.tiles) > 0 {
		if _, ok := m.tiles[tile]; ok {
			return true, true
		}
		if len(m.regions) == 0 || !s.HasFootprint() {
			return false, true
		}
	}
	if !s.HasFootprint() {
		return false, false
	}
	footprint := s.Footprint()
	for _, region := range m.regions {
		if intersects(footprint, region) {
			return true, true
		}
	}
	return false, true
}

func intersects(a, b orb.Polygon) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	for _, p := range a[0] {
		if planar.PolygonContains(b, p) {
			return true
		}
	}
	for _, p := range b[0] {
		if planar.PolygonContains(a, p) {
			return true
		}
	}
	return ringsCross(a[0], b[0])
}

func ringsCross(a, b orb.Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsCross(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 orb.Point) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}
