package pairing

import (
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/example/go-itslive/monitor/scene"
)

// Window bounds the absolute acquisition separation of a usable pair.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Contains reports whether d lies inside the window, bounds inclusive.
func (w Window) Contains(d time.Duration) bool {
	if d < 0 {
		d = -d
	}
	return d >= w.Min && d <= w.Max
}

// SearchRequest is the catalog query derived from a reference scene.
type SearchRequest struct {
	Mission       scene.Mission
	Collection    string
	Tile          string
	RelativeOrbit int
	Orientation   scene.Orientation
	Start         time.Time
	End           time.Time
	// Region is a small box inside the reference footprint. Empty when the
	// reference has no footprint.
	Region orb.Polygon
	// Exclude is the reference id, which catalogs may drop server-side.
	Exclude string
	// Polarization is set for radar references; secondaries must match it.
	Polarization string
}

// Selector ranks candidates using per-mission separation windows.
type Selector struct {
	windows   map[scene.Mission]Window
	halfWidth float64
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSearchHalfWidth sets the half-width in degrees of the search region.
func WithSearchHalfWidth(deg float64) SelectorOption {
	return func(s *Selector) {
		if deg > 0 {
			s.halfWidth = deg
		}
	}
}

// NewSelector builds a selector from per-mission windows.
func NewSelector(windows map[scene.Mission]Window, opts ...SelectorOption) *Selector {
	s := &Selector{
		windows:   make(map[scene.Mission]Window, len(windows)),
		halfWidth: 0.05,
	}
	for m, w := range windows {
		s.windows[m] = w
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the separation window configured for m.
func (s *Selector) Window(m scene.Mission) (Window, bool) {
	w, ok := s.windows[m]
	return w, ok
}

// Select filters and ranks candidates, most preferred first. The result may
// be empty and never contains the reference itself.
func (s *Selector) Select(reference scene.Descriptor, candidates []scene.Descriptor) []Pair {
	window, ok := s.windows[reference.Mission()]
	if !ok {
		return nil
	}

	type ranked struct {
		scene scene.Descriptor
		delta time.Duration
	}
	seen := make(map[string]struct{}, len(candidates))
	kept := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		if !compatible(reference, c) {
			continue
		}
		if _, dup := seen[c.ID()]; dup {
			continue
		}
		delta := c.Acquired().Sub(reference.Acquired())
		if delta < 0 {
			delta = -delta
		}
		if !window.Contains(delta) {
			continue
		}
		seen[c.ID()] = struct{}{}
		kept = append(kept, ranked{scene: c, delta: delta})
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].delta != kept[j].delta {
			return kept[i].delta < kept[j].delta
		}
		return kept[i].scene.ID() < kept[j].scene.ID()
	})

	pairs := make([]Pair, 0, len(kept))
	for _, k := range kept {
		pairs = append(pairs, NewPair(reference, k.scene))
	}
	return pairs
}

func compatible(reference, c scene.Descriptor) bool {
	if c.ID() == reference.ID() || c.Mission() != reference.Mission() {
		return false
	}
	if c.Acquired().Equal(reference.Acquired()) {
		return false
	}
	if reference.Tile() != "" && c.Tile() != "" && reference.Tile() != c.Tile() {
		return false
	}
	if reference.Orientation() != c.Orientation() {
		return false
	}
	if reference.Orientation() == scene.OffNadir && reference.RelativeOrbit() != c.RelativeOrbit() {
		return false
	}
	if reference.Mission() == scene.MissionSentinel1 && reference.Tier() != c.Tier() {
		return false
	}
	return true
}

// SearchRequest derives the catalog query for reference.
func (s *Selector) SearchRequest(reference scene.Descriptor) SearchRequest {
	window := s.windows[reference.Mission()]
	req := SearchRequest{
		Mission:       reference.Mission(),
		Collection:    reference.Collection(),
		Tile:          reference.Tile(),
		RelativeOrbit: reference.RelativeOrbit(),
		Orientation:   reference.Orientation(),
		Start:         reference.Acquired().Add(-window.Max),
		End:           reference.Acquired().Add(window.Max),
		Exclude:       reference.ID(),
	}
	if reference.Mission() == scene.MissionSentinel1 {
		req.Polarization = reference.Tier()
	}
	if reference.HasFootprint() {
		req.Region = SearchRegion(reference.Footprint(), s.halfWidth)
	}
	return req
}

// SearchRegion returns a box of the given half-width centred on the footprint
// area centroid and clipped to the footprint bound.
func SearchRegion(footprint orb.Polygon, halfWidth float64) orb.Polygon {
	if len(footprint) == 0 || len(footprint[0]) == 0 {
		return nil
	}
	bound := footprint.Bound()
	c, _ := planar.CentroidArea(footprint)
	box := orb.Bound{
		Min: orb.Point{c[0] - halfWidth, c[1] - halfWidth},
		Max: orb.Point{c[0] + halfWidth, c[1] + halfWidth},
	}
	box.Min[0] = max(box.Min[0], bound.Min[0])
	box.Min[1] = max(box.Min[1], bound.Min[1])
	box.Max[0] = min(box.Max[0], bound.Max[0])
	box.Max[1] = min(box.Max[1], bound.Max[1])
	return box.ToPolygon()
}
