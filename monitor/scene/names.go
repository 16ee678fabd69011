package scene

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	landsatPattern   = regexp.MustCompile(`^L[A-Z]\d{2}_`)
	landsatOLI       = regexp.MustCompile(`^L[CO]0[89]$`)
	sentinel2Pattern = regexp.MustCompile(`^S2[A-D]_MSI`)
	sentinel1Pattern = regexp.MustCompile(`^S1_\d+_IW\d_`)
)

// ParseName recovers the attributes encoded in a scene identifier.
//
// Identifiers that do not belong to a known mission family yield attributes
// with MissionUnknown and no error. Identifiers that look like a known family
// but do not follow its grammar are malformed.
func ParseName(id string) (Attributes, error) {
	id = strings.TrimSuffix(strings.TrimSpace(id), ".SAFE")
	if id == "" {
		return Attributes{}, fmt.Errorf("%w: empty scene id", ErrMalformed)
	}
	switch {
	case sentinel1Pattern.MatchString(id):
		return parseSentinel1(id)
	case sentinel2Pattern.MatchString(id):
		return parseSentinel2(id)
	case landsatPattern.MatchString(id):
		return parseLandsat(id)
	default:
		return Attributes{ID: id, Mission: MissionUnknown}, nil
	}
}

// LC08_L1TP_138041_20240128_20240207_02_T1
func parseLandsat(id string) (Attributes, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 7 {
		return Attributes{}, fmt.Errorf("%w: landsat id %q has %d fields", ErrMalformed, id, len(parts))
	}
	if !landsatOLI.MatchString(parts[0]) {
		return Attributes{ID: id, Mission: MissionUnknown}, nil
	}
	pathRow := parts[2]
	if len(pathRow) != 6 {
		return Attributes{}, fmt.Errorf("%w: landsat path/row %q", ErrMalformed, pathRow)
	}
	path, err := strconv.Atoi(pathRow[:3])
	if err != nil {
		return Attributes{}, fmt.Errorf("%w: landsat path %q", ErrMalformed, pathRow[:3])
	}
	if _, err := strconv.Atoi(pathRow[3:]); err != nil {
		return Attributes{}, fmt.Errorf("%w: landsat row %q", ErrMalformed, pathRow[3:])
	}
	acquired, err := time.Parse("20060102", parts[3])
	if err != nil {
		return Attributes{}, fmt.Errorf("%w: landsat acquisition date %q", ErrMalformed, parts[3])
	}
	return Attributes{
		ID:            id,
		Mission:       MissionLandsat,
		Acquired:      Normalize(acquired),
		Tile:          pathRow,
		RelativeOrbit: path,
		Tier:          parts[6],
	}, nil
}

// S2B_MSIL1C_20200315T152259_N0209_R039_T13CES_20200315T181115
func parseSentinel2(id string) (Attributes, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 7 {
		return Attributes{}, fmt.Errorf("%w: sentinel-2 id %q has %d fields", ErrMalformed, id, len(parts))
	}
	acquired, err := time.Parse("20060102T150405", parts[2])
	if err != nil {
		return Attributes{}, fmt.Errorf("%w: sentinel-2 sensing time %q", ErrMalformed, parts[2])
	}
	if !strings.HasPrefix(parts[3], "N") {
		return Attributes{}, fmt.Errorf("%w: sentinel-2 baseline %q", ErrMalformed, parts[3])
	}
	if !strings.HasPrefix(parts[4], "R") {
		return Attributes{}, fmt.Errorf("%w: sentinel-2 relative orbit %q", ErrMalformed, parts[4])
	}
	orbit, err := strconv.Atoi(parts[4][1:])
	if err != nil {
		return Attributes{}, fmt.Errorf("%w: sentinel-2 relative orbit %q", ErrMalformed, parts[4])
	}
	if !strings.HasPrefix(parts[5], "T") || len(parts[5]) != 6 {
		return Attributes{}, fmt.Errorf("%w: sentinel-2 tile %q", ErrMalformed, parts[5])
	}
	return Attributes{
		ID:            id,
		Mission:       MissionSentinel2,
		Acquired:      Normalize(acquired),
		Tile:          parts[5][1:],
		RelativeOrbit: orbit,
		Tier:          parts[1],
		Campaign:      parts[3],
	}, nil
}

// S1_247728_IW1_20251003T154900_VV_657C-BURST
func parseSentinel1(id string) (Attributes, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 6 || !strings.HasSuffix(parts[5], "-BURST") {
		return Attributes{}, fmt.Errorf("%w: sentinel-1 burst id %q", ErrMalformed, id)
	}
	acquired, err := time.Parse("20060102T150405", parts[3])
	if err != nil {
		return Attributes{}, fmt.Errorf("%w: sentinel-1 start time %q", ErrMalformed, parts[3])
	}
	return Attributes{
		ID:       id,
		Mission:  MissionSentinel1,
		Acquired: Normalize(acquired),
		Tier:     parts[4],
	}, nil
}
