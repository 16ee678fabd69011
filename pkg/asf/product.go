package asf

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/example/go-itslive/monitor/scene"
)

// FeatureCollection represents the top-level GeoJSON FeatureCollection.
type FeatureCollection struct {
	Features []Product `json:"features"`
}

// Product represents a single feature in the collection.
type Product struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties Properties      `json:"properties"`
}

// Properties represents the metadata associated with a feature.
type Properties struct {
	SceneName       string           `json:"sceneName"`
	FileID          string           `json:"fileID"`
	StartTime       string           `json:"startTime"`
	StopTime        string           `json:"stopTime"`
	Platform        string           `json:"platform"`
	Polarization    string           `json:"polarization"`
	FlightDirection string           `json:"flightDirection"`
	PathNumber      int              `json:"pathNumber"`
	ProcessingLevel string           `json:"processingLevel"`
	BeamModeType    string           `json:"beamModeType"`
	URL             string           `json:"url"`
	Burst           *BurstProperties `json:"burst,omitempty"`
}

// BurstProperties carries the burst identifiers of a BURST product.
type BurstProperties struct {
	AbsoluteBurstID int    `json:"absoluteBurstID"`
	RelativeBurstID int    `json:"relativeBurstID"`
	FullBurstID     string `json:"fullBurstID"`
	BurstIndex      int    `json:"burstIndex"`
	Subswath        string `json:"subswath"`
}

// FullBurstID returns the burst's track, burst and swath identifier, for
// example "064_135527_IW1".
func (p Product) FullBurstID() string {
	if p.Properties.Burst == nil {
		return ""
	}
	return p.Properties.Burst.FullBurstID
}

// Attributes converts the product into scene attributes.
func (p Product) Attributes() (scene.Attributes, error) {
	props := p.Properties
	if props.SceneName == "" {
		return scene.Attributes{}, fmt.Errorf("%w: asf product without scene name", scene.ErrMalformed)
	}
	attrs := scene.Attributes{
		ID:            props.SceneName,
		Mission:       scene.MissionSentinel1,
		Tile:          p.FullBurstID(),
		Tier:          props.Polarization,
		RelativeOrbit: props.PathNumber,
		Collection:    props.ProcessingLevel,
	}
	if props.StartTime != "" {
		acquired, err := scene.ParseTime(props.StartTime)
		if err != nil {
			return scene.Attributes{}, fmt.Errorf("asf: product %s start time: %w", props.SceneName, err)
		}
		attrs.Acquired = acquired
	}
	footprint, err := decodeFootprint(p.Geometry)
	if err != nil {
		return scene.Attributes{}, fmt.Errorf("asf: product %s geometry: %w", props.SceneName, err)
	}
	attrs.Footprint = footprint
	return attrs, nil
}

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
		if len(geom) == 0 {
			return nil, nil
		}
		return geom[0], nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %s", scene.ErrMalformed, geom.GeoJSONType())
	}
}
