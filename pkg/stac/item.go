package stac

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/example/go-itslive/monitor/scene"
)

// ItemCollection is a page of STAC search results.
type ItemCollection struct {
	Features []Item `json:"features"`
	Links    []Link `json:"links"`
}

// Link is a STAC hypermedia link. Search pagination uses rel "next".
type Link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Item is a single STAC item.
type Item struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties Properties      `json:"properties"`
}

// Properties holds the item fields used for eligibility and pairing.
type Properties struct {
	Datetime    string   `json:"datetime"`
	Platform    string   `json:"platform"`
	Instruments []string `json:"instruments"`
	OffNadir    *float64 `json:"view:off_nadir"`

	WRSPath            string   `json:"landsat:wrs_path"`
	WRSRow             string   `json:"landsat:wrs_row"`
	CollectionCategory string   `json:"landsat:collection_category"`
	CloudCoverLand     *float64 `json:"landsat:cloud_cover_land"`

	CloudCover         *float64 `json:"eo:cloud_cover"`
	ProductURI         string   `json:"s2:product_uri"`
	GridCode           string   `json:"grid:code"`
	NoDataPercentage   *float64 `json:"s2:nodata_pixel_percentage"`
	ProcessingBaseline string   `json:"s2:processing_baseline"`
	RelativeOrbit      *int     `json:"sat:relative_orbit"`
}

// SceneID returns the mission scene name for the item. Sentinel-2 items are
// keyed by product URI rather than the catalog's own id.
func (it Item) SceneID() string {
	if uri := it.Properties.ProductURI; uri != "" {
		return strings.TrimSuffix(uri, ".SAFE")
	}
	return it.ID
}

// Attributes converts the item into scene attributes for mission m.
func (it Item) Attributes(m scene.Mission) (scene.Attributes, error) {
	id := it.SceneID()
	if id == "" {
		return scene.Attributes{}, fmt.Errorf("%w: stac item without id", scene.ErrMalformed)
	}
	attrs := scene.Attributes{
		ID:         id,
		Mission:    m,
		Collection: it.Collection,
		Metrics:    map[string]float64{},
	}

	p := it.Properties
	if p.Datetime != "" {
		acquired, err := scene.ParseTime(p.Datetime)
		if err != nil {
			return scene.Attributes{}, fmt.Errorf("stac: item %s datetime: %w", id, err)
		}
		attrs.Acquired = acquired
	}

	footprint, err := decodeFootprint(it.Geometry)
	if err != nil {
		return scene.Attributes{}, fmt.Errorf("stac: item %s geometry: %w", id, err)
	}
	attrs.Footprint = footprint

	if p.OffNadir != nil && *p.OffNadir > 0 {
		attrs.Orientation = scene.OffNadir
	}
	if p.RelativeOrbit != nil {
		attrs.RelativeOrbit = *p.RelativeOrbit
	}

	switch m {
	case scene.MissionLandsat:
		if p.WRSPath != "" && p.WRSRow != "" {
			attrs.Tile = pad3(p.WRSPath) + pad3(p.WRSRow)
		}
		// Landsat items carry no sat:relative_orbit; the WRS path is the orbit track.
		if path, err := strconv.Atoi(p.WRSPath); err == nil {
			attrs.RelativeOrbit = path
		}
		attrs.Tier = p.CollectionCategory
		if p.CloudCoverLand != nil {
			attrs.Metrics[scene.MetricCloudCover] = *p.CloudCoverLand
		}
		if len(p.Instruments) > 0 && !hasInstrument(p.Instruments, "oli") {
			attrs.Mission = scene.MissionUnknown
		}
	case scene.MissionSentinel2:
		attrs.Tile = strings.TrimPrefix(p.GridCode, "MGRS-")
		if parts := strings.Split(id, "_"); len(parts) == 7 {
			attrs.Tier = parts[1]
			attrs.Campaign = parts[3]
		}
		if attrs.Campaign == "" && p.ProcessingBaseline != "" {
			attrs.Campaign = "N" + strings.ReplaceAll(p.ProcessingBaseline, ".", "")
		}
		if p.CloudCover != nil {
			attrs.Metrics[scene.MetricCloudCover] = *p.CloudCover
		}
		if p.NoDataPercentage != nil {
			attrs.Metrics[scene.MetricDataCoverage] = 100 - *p.NoDataPercentage
		}
	}
	return attrs, nil
}

// decodeFootprint reads a GeoJSON Polygon or MultiPolygon. The largest
// polygon of a MultiPolygon is used. A null geometry yields no footprint.
func decodeFootprint(raw json.RawMessage) (orb.Polygon, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scene.ErrMalformed, err)
	}
	switch geom := g.Geometry().(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		return geom, nil
	case orb.MultiPolygon:
		var (
			best orb.Polygon
			area = -1.0
		)
		for _, poly := range geom {
			if a := math.Abs(planar.Area(poly)); a > area {
				best, area = poly, a
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %s", scene.ErrMalformed, geom.GeoJSONType())
	}
}

func pad3(s string) string {
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

func hasInstrument(instruments []string, name string) bool {
	for _, inst := range instruments {
		if strings.EqualFold(inst, name) {
			return true
		}
	}
	return false
}
