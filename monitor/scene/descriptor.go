// Package scene describes satellite scenes as immutable values and recovers
// their attributes from mission naming conventions.
package scene

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Quality metric names understood by the eligibility rules.
const (
	MetricCloudCover   = "cloud_cover"
	MetricDataCoverage = "data_coverage"
)

// ErrMalformed marks scene data that cannot be interpreted.
var ErrMalformed = errors.New("scene: malformed")

// Attributes is the mutable input used to build a Descriptor.
type Attributes struct {
	ID            string
	Mission       Mission
	Acquired      time.Time
	Footprint     orb.Polygon
	Tile          string
	RelativeOrbit int
	Orientation   Orientation
	Tier          string
	Campaign      string
	Collection    string
	Metrics       map[string]float64
}

// Descriptor is the read-only view of a scene shared by every pipeline stage.
type Descriptor struct {
	id            string
	mission       Mission
	acquired      time.Time
	footprint     orb.Polygon
	tile          string
	relativeOrbit int
	orientation   Orientation
	tier          string
	campaign      string
	collection    string
	metrics       map[string]float64
}

// New validates attrs and returns the corresponding Descriptor. The acquisition
// time is normalised to UTC at microsecond resolution.
func New(attrs Attributes) (Descriptor, error) {
	if attrs.ID == "" {
		return Descriptor{}, fmt.Errorf("%w: empty scene id", ErrMalformed)
	}
	d := Descriptor{
		id:            attrs.ID,
		mission:       attrs.Mission,
		acquired:      Normalize(attrs.Acquired),
		footprint:     attrs.Footprint.Clone(),
		tile:          attrs.Tile,
		relativeOrbit: attrs.RelativeOrbit,
		orientation:   attrs.Orientation,
		tier:          attrs.Tier,
		campaign:      attrs.Campaign,
		collection:    attrs.Collection,
	}
	if len(attrs.Metrics) > 0 {
		d.metrics = make(map[string]float64, len(attrs.Metrics))
		for k, v := range attrs.Metrics {
			d.metrics[k] = v
		}
	}
	return d, nil
}

// MustNew is like New but panics on error. Intended for tests and constants.
func MustNew(attrs Attributes) Descriptor {
	d, err := New(attrs)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Descriptor) ID() string               { return d.id }
func (d Descriptor) Mission() Mission         { return d.mission }
func (d Descriptor) Acquired() time.Time      { return d.acquired }
func (d Descriptor) Tile() string             { return d.tile }
func (d Descriptor) RelativeOrbit() int       { return d.relativeOrbit }
func (d Descriptor) Orientation() Orientation { return d.orientation }
func (d Descriptor) Tier() string             { return d.tier }
func (d Descriptor) Campaign() string         { return d.campaign }
func (d Descriptor) Collection() string       { return d.collection }

// Footprint returns a copy of the scene footprint in lon/lat order.
func (d Descriptor) Footprint() orb.Polygon { return d.footprint.Clone() }

// HasFootprint reports whether the scene carries a non-empty outer ring.
func (d Descriptor) HasFootprint() bool {
	return len(d.footprint) > 0 && len(d.footprint[0]) > 0
}

// Metric returns a quality metric. Absent or negative values are unknown.
func (d Descriptor) Metric(name string) (float64, bool) {
	v, ok := d.metrics[name]
	if !ok || v < 0 {
		return 0, false
	}
	return v, true
}

// Attributes returns a mutable copy of the descriptor's fields.
func (d Descriptor) Attributes() Attributes {
	attrs := Attributes{
		ID:            d.id,
		Mission:       d.mission,
		Acquired:      d.acquired,
		Footprint:     d.footprint.Clone(),
		Tile:          d.tile,
		RelativeOrbit: d.relativeOrbit,
		Orientation:   d.orientation,
		Tier:          d.tier,
		Campaign:      d.campaign,
		Collection:    d.collection,
	}
	if len(d.metrics) > 0 {
		attrs.Metrics = make(map[string]float64, len(d.metrics))
		for k, v := range d.metrics {
			attrs.Metrics[k] = v
		}
	}
	return attrs
}

// Merge overlays non-zero fields of catalog-derived attributes on top of
// name-derived ones. The scene id is never replaced.
func Merge(base, overlay Attributes) Attributes {
	out := base
	if overlay.Mission != MissionUnknown {
		out.Mission = overlay.Mission
	}
	if !overlay.Acquired.IsZero() {
		out.Acquired = overlay.Acquired
	}
	if len(overlay.Footprint) > 0 {
		out.Footprint = overlay.Footprint
	}
	if overlay.Tile != "" {
		out.Tile = overlay.Tile
	}
	if overlay.RelativeOrbit != 0 {
		out.RelativeOrbit = overlay.RelativeOrbit
	}
	if overlay.Orientation != Nadir {
		out.Orientation = overlay.Orientation
	}
	if overlay.Tier != "" {
		out.Tier = overlay.Tier
	}
	if overlay.Campaign != "" {
		out.Campaign = overlay.Campaign
	}
	if overlay.Collection != "" {
		out.Collection = overlay.Collection
	}
	if len(overlay.Metrics) > 0 {
		metrics := make(map[string]float64, len(base.Metrics)+len(overlay.Metrics))
		for k, v := range base.Metrics {
			metrics[k] = v
		}
		for k, v := range overlay.Metrics {
			metrics[k] = v
		}
		out.Metrics = metrics
	}
	return out
}

// ErrNotFound marks a scene the catalog has not indexed.
var ErrNotFound = errors.New("scene: not found")
