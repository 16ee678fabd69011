package scene

import (
	"fmt"
	"strings"
)

// Mission identifies the platform family that produced a scene.
type Mission int

const (
	MissionUnknown Mission = iota
	// MissionLandsat covers Landsat 8/9 OLI scenes.
	MissionLandsat
	// MissionSentinel2 covers Sentinel-2 MSI Level-1C tiles.
	MissionSentinel2
	// MissionSentinel1 covers Sentinel-1 IW bursts.
	MissionSentinel1
)

// Missions lists every recognised mission in a stable order.
var Missions = []Mission{MissionLandsat, MissionSentinel2, MissionSentinel1}

func (m Mission) String() string {
	switch m {
	case MissionLandsat:
		return "landsat"
	case MissionSentinel2:
		return "sentinel2"
	case MissionSentinel1:
		return "sentinel1"
	default:
		return "unknown"
	}
}

// ParseMission converts a configuration or label value into a Mission.
func ParseMission(value string) (Mission, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "landsat", "landsat8", "landsat9":
		return MissionLandsat, nil
	case "sentinel2", "sentinel-2", "s2":
		return MissionSentinel2, nil
	case "sentinel1", "sentinel-1", "s1":
		return MissionSentinel1, nil
	default:
		return MissionUnknown, fmt.Errorf("scene: unknown mission %q", value)
	}
}

// Orientation distinguishes nadir from off-nadir acquisitions.
type Orientation int

const (
	Nadir Orientation = iota
	OffNadir
)

func (o Orientation) String() string {
	if o == OffNadir {
		return "off-nadir"
	}
	return "nadir"
}
