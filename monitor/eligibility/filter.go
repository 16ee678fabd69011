// Package eligibility decides whether a scene qualifies for pairing using a
// per-mission rule table. Evaluation is pure and performs no I/O.
package eligibility

import (
	"strings"

	"github.com/example/go-itslive/monitor/scene"
)

// Rules is the rule table of a single mission.
type Rules struct {
	Enabled   bool
	Tiers     []string
	Mask      *Mask
	Campaigns []string

	// CloudCover enables the cloud rule with MaxCloudCover as inclusive bound.
	CloudCover    bool
	MaxCloudCover float64

	// DataCoverage enables the coverage rule with MinDataCoverage as inclusive bound.
	DataCoverage    bool
	MinDataCoverage float64
}

type compiledRules struct {
	Rules
	tiers     map[string]struct{}
	campaigns map[string]struct{}
}

// Filter evaluates scenes against the rule table of their mission.
type Filter struct {
	rules map[scene.Mission]compiledRules
}

// NewFilter compiles the rule tables. Missions absent from rules are treated
// as not enabled.
func NewFilter(rules map[scene.Mission]Rules) *Filter {
	f := &Filter{rules: make(map[scene.Mission]compiledRules, len(rules))}
	for mission, r := range rules {
		f.rules[mission] = compiledRules{
			Rules:     r,
			tiers:     toSet(r.Tiers),
			campaigns: toSet(r.Campaigns),
		}
	}
	return f
}

// Enabled reports whether the mission has an enabled rule table.
func (f *Filter) Enabled(m scene.Mission) bool {
	r, ok := f.rules[m]
	return ok && r.Enabled
}

// Evaluate applies every rule in order and reports the first failure.
func (f *Filter) Evaluate(s scene.Descriptor) Verdict {
	r, v := f.identity(s, false)
	if !v.Eligible {
		return v
	}
	if r.CloudCover {
		cc, ok := s.Metric(scene.MetricCloudCover)
		if !ok {
			return rejected(ReasonUnknownQualityMetric)
		}
		if cc > r.MaxCloudCover {
			return rejected(ReasonExceedsCloudCover)
		}
	}
	if r.DataCoverage {
		dc, ok := s.Metric(scene.MetricDataCoverage)
		if !ok {
			return rejected(ReasonUnknownQualityMetric)
		}
		if dc < r.MinDataCoverage {
			return rejected(ReasonInsufficientDataCoverage)
		}
	}
	return eligible()
}

// Screen applies only the rules decidable from a scene identifier (mission,
// tier, land-ice, campaign). An undecidable land-ice test passes.
func (f *Filter) Screen(s scene.Descriptor) Verdict {
	_, v := f.identity(s, true)
	return v
}

func (f *Filter) identity(s scene.Descriptor, lenient bool) (compiledRules, Verdict) {
	if s.Mission() == scene.MissionUnknown {
		return compiledRules{}, rejected(ReasonUnsupportedMission)
	}
	r, ok := f.rules[s.Mission()]
	if !ok || !r.Enabled {
		return compiledRules{}, rejected(ReasonMissionDisabled)
	}
	if len(r.tiers) > 0 {
		if _, ok := r.tiers[strings.ToUpper(s.Tier())]; !ok {
			return r, rejected(ReasonUnapprovedTier)
		}
	}
	if covered, decided := r.Mask.Covers(s); !covered && (decided || !lenient) {
		return r, rejected(ReasonNotOverLandIce)
	}
	if s.Campaign() != "" {
		if _, ok := r.campaigns[strings.ToUpper(s.Campaign())]; ok {
			return r, rejected(ReasonReprocessingCampaign)
		}
	}
	return r, eligible()
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
