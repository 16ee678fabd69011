package monitor

import (
	"github.com/example/go-itslive/monitor/eligibility"
	"github.com/example/go-itslive/monitor/scene"
)

// Kind is the terminal classification of one invocation.
type Kind string

const (
	KindSubmitted Kind = "Submitted"
	KindSkipped   Kind = "Skipped"
	KindDeferred  Kind = "Deferred"
	KindFailed    Kind = "Failed"
)

// Reason explains a Skipped, Deferred or Failed outcome.
type Reason string

// Skipped reasons. Eligibility reasons are carried over verbatim.
const (
	ReasonUnsupportedMission       = Reason(eligibility.ReasonUnsupportedMission)
	ReasonMissionDisabled          = Reason(eligibility.ReasonMissionDisabled)
	ReasonUnapprovedTier           = Reason(eligibility.ReasonUnapprovedTier)
	ReasonNotOverLandIce           = Reason(eligibility.ReasonNotOverLandIce)
	ReasonReprocessingCampaign     = Reason(eligibility.ReasonReprocessingCampaign)
	ReasonUnknownQualityMetric     = Reason(eligibility.ReasonUnknownQualityMetric)
	ReasonExceedsCloudCover        = Reason(eligibility.ReasonExceedsCloudCover)
	ReasonInsufficientDataCoverage = Reason(eligibility.ReasonInsufficientDataCoverage)

	ReasonNoCatalogCandidates    Reason = "NoCatalogCandidates"
	ReasonNoCompatibleSecondary  Reason = "NoCompatibleSecondary"
	ReasonAllCandidatesDuplicate Reason = "AllCandidatesDuplicate"
	ReasonDuplicateSubmission    Reason = "DuplicateSubmission"
)

// Deferred reasons: the notification should be redelivered later.
const (
	ReasonSceneNotIndexed       Reason = "SceneNotIndexed"
	ReasonSceneNotAvailable     Reason = "SceneNotAvailable"
	ReasonCatalogUnavailable    Reason = "CatalogUnavailable"
	ReasonDedupUnavailable      Reason = "DedupUnavailable"
	ReasonSubmissionUnavailable Reason = "SubmissionUnavailable"
)

// Failed reasons: redelivery will not help.
const (
	ReasonMalformedInput       Reason = "MalformedInput"
	ReasonApplicationRejection Reason = "ApplicationRejection"
	ReasonInternal             Reason = "Internal"
)

// Stage is the last pipeline stage an invocation reached.
type Stage string

const (
	StageReceived     Stage = "Received"
	StageFiltered     Stage = "Filtered"
	StageSearched     Stage = "Searched"
	StagePaired       Stage = "Paired"
	StageDeduplicated Stage = "Deduplicated"
	StageTerminal     Stage = "Terminal"
)

// Outcome is the single terminal result of processing one notification.
type Outcome struct {
	Kind   Kind
	Reason Reason
	Stage  Stage

	SceneID      string
	Mission      scene.Mission
	PairKey      string
	JobID        string
	InvocationID string

	// Err is the underlying cause of Deferred and Failed outcomes.
	Err error
}

// Submitted reports a successful submission of pairKey.
func Submitted(pairKey, jobID string) Outcome {
	return Outcome{Kind: KindSubmitted, Stage: StageTerminal, PairKey: pairKey, JobID: jobID}
}

// Skipped reports a scene intentionally not processed.
func Skipped(stage Stage, reason Reason) Outcome {
	return Outcome{Kind: KindSkipped, Stage: stage, Reason: reason}
}

// Deferred reports a transient condition; the transport should redeliver.
func Deferred(stage Stage, reason Reason, err error) Outcome {
	return Outcome{Kind: KindDeferred, Stage: stage, Reason: reason, Err: err}
}

// Failed reports a permanent failure.
func Failed(stage Stage, reason Reason, err error) Outcome {
	return Outcome{Kind: KindFailed, Stage: stage, Reason: reason, Err: err}
}

// Retryable reports whether the notification should be redelivered.
func (o Outcome) Retryable() bool { return o.Kind == KindDeferred }

// Done reports whether the notification can be acknowledged.
func (o Outcome) Done() bool { return o.Kind == KindSubmitted || o.Kind == KindSkipped }

func (o Outcome) String() string {
	switch o.Kind {
	case KindSubmitted:
		return string(o.Kind) + "(" + o.PairKey + ", " + o.JobID + ")"
	case "":
		return "<none>"
	default:
		return string(o.Kind) + "(" + string(o.Reason) + ")"
	}
}
