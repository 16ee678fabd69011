package dedup

import (
	"fmt"
	"math"
	"path"
	"sort"

	"github.com/paulmach/orb"

	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

// Layout describes where published pair products live in the product store.
//
// Keys follow <Root>/<mission dir>/<Version>/<region>/<pair key>... where the
// region is derived from the footprint corners of both scenes.
type Layout struct {
	Root           string
	Version        string
	ArtifactSuffix string
	MissionDirs    map[scene.Mission]string
}

// DefaultLayout mirrors the published velocity pair bucket layout.
func DefaultLayout() Layout {
	return Layout{
		Root:           "velocity_image_pair",
		Version:        "v02",
		ArtifactSuffix: ".nc",
		MissionDirs: map[scene.Mission]string{
			scene.MissionLandsat:   "landsatOLI",
			scene.MissionSentinel2: "sentinel2",
			scene.MissionSentinel1: "sentinel1",
		},
	}
}

// Prefixes returns the product store prefixes that would hold the pair.
func (l Layout) Prefixes(p pairing.Pair) []string {
	dir := l.MissionDirs[p.Mission()]
	if dir == "" {
		dir = p.Mission().String()
	}
	regions := Regions(p.Reference.Footprint(), p.Secondary.Footprint())
	if len(regions) == 0 {
		return []string{path.Join(l.Root, dir, l.Version, p.Key)}
	}
	prefixes := make([]string, 0, len(regions))
	for _, region := range regions {
		prefixes = append(prefixes, path.Join(l.Root, dir, l.Version, region, p.Key))
	}
	return prefixes
}

// Regions returns the sorted, distinct region labels touched by the outer
// ring vertices of the given footprints.
func Regions(footprints ...orb.Polygon) []string {
	set := make(map[string]struct{})
	for _, fp := range footprints {
		if len(fp) == 0 {
			continue
		}
		for _, p := range fp[0] {
			set[Region(p)] = struct{}{}
		}
	}
	regions := make([]string, 0, len(set))
	for r := range set {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// Region labels the 10 degree bin containing p, e.g. N70W050. Latitudes are
// capped at 80 and longitudes at 170 so the poles and antimeridian fold into
// the last bin.
func Region(p orb.Point) string {
	lon, lat := p[0], p[1]

	ns := "N"
	if lat < 0 {
		ns = "S"
	}
	latBin := int(math.Floor(math.Abs(lat)/10)) * 10
	if latBin > 80 {
		latBin = 80
	}

	ew := "E"
	if lon < 0 {
		ew = "W"
	}
	lonBin := int(math.Floor(math.Abs(lon)/10)) * 10
	if lonBin > 170 {
		lonBin = 170
	}
	return fmt.Sprintf("%s%02d%s%03d", ns, latBin, ew, lonBin)
}
