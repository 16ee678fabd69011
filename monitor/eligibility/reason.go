package eligibility

// Reason names the first eligibility rule a scene failed.
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonUnsupportedMission       Reason = "UnsupportedMission"
	ReasonMissionDisabled          Reason = "MissionDisabled"
	ReasonUnapprovedTier           Reason = "UnapprovedTier"
	ReasonNotOverLandIce           Reason = "NotOverLandIce"
	ReasonReprocessingCampaign     Reason = "ReprocessingCampaign"
	ReasonUnknownQualityMetric     Reason = "UnknownQualityMetric"
	ReasonExceedsCloudCover        Reason = "ExceedsCloudCover"
	ReasonInsufficientDataCoverage Reason = "InsufficientDataCoverage"
)

// Verdict is the result of evaluating a scene.
type Verdict struct {
	Eligible bool
	Reason   Reason
}

func eligible() Verdict              { return Verdict{Eligible: true} }
func rejected(reason Reason) Verdict { return Verdict{Reason: reason} }
