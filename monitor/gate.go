// Package monitor turns scene-published notifications into at most one
// processing submission per scene.
//
// Each call to Gate.Process walks a fixed sequence of stages (Received,
// Filtered, Searched, Paired, Deduplicated, Terminal) and returns exactly one
// Outcome. The gate keeps no state between invocations; redelivered
// notifications are made harmless by the deduplication stage.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/go-itslive/internal/logging"
	"github.com/example/go-itslive/monitor/dedup"
	"github.com/example/go-itslive/monitor/eligibility"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

const tracerName = "github.com/example/go-itslive/monitor"

// Catalog finds and describes scenes of one mission.
type Catalog interface {
	// Resolve looks up a single scene by id. It returns an error wrapping
	// scene.ErrNotFound when the catalog has not indexed the scene yet.
	Resolve(ctx context.Context, id string) (scene.Attributes, error)
	// Decode interprets a catalog record embedded in a notification.
	Decode(item json.RawMessage) (scene.Attributes, error)
	// Search returns candidate scenes. Results may be partial.
	Search(ctx context.Context, req pairing.SearchRequest) ([]scene.Descriptor, error)
}

// Catalogs routes catalog calls by mission.
type Catalogs map[scene.Mission]Catalog

// Deduplicator decides whether a pair was already processed or is in flight.
type Deduplicator interface {
	Check(ctx context.Context, p pairing.Pair) (dedup.Result, error)
}

// Submitter hands a pair to the processing service and returns its job id.
// A submitter signals a conflicting concurrent submission with an error
// wrapping ErrDuplicateSubmission or an HTTP 409 status error.
type Submitter interface {
	Submit(ctx context.Context, p pairing.Pair, params Parameters) (string, error)
}

// Availability confirms the processing service can fetch a scene. Errors
// defer the invocation.
type Availability interface {
	Check(ctx context.Context, d scene.Descriptor) error
}

// Recorder receives outcome and remote call observations.
type Recorder interface {
	RecordOutcome(o Outcome)
	ObserveCall(call string, d time.Duration, err error)
}

// Parameters are attached to every submitted job.
type Parameters struct {
	JobType       string
	PublishBucket string
}

// Timeouts bounds each remote call independently.
type Timeouts struct {
	Resolve      time.Duration
	Availability time.Duration
	Search       time.Duration
	Dedup        time.Duration
	Submit       time.Duration
}

// Config is the immutable runtime configuration of a Gate.
type Config struct {
	Environment string
	Timeouts    Timeouts
	Parameters  Parameters
}

// DefaultTimeouts are used for any zero Timeouts field.
var DefaultTimeouts = Timeouts{
	Resolve:      30 * time.Second,
	Availability: 20 * time.Second,
	Search:       60 * time.Second,
	Dedup:        20 * time.Second,
	Submit:       30 * time.Second,
}

// Dependencies are the collaborators wired into a Gate.
type Dependencies struct {
	Filter    *eligibility.Filter
	Selector  *pairing.Selector
	Catalogs  Catalogs
	Oracle    Deduplicator
	Submitter Submitter
	// Availability is optional; nil skips the check.
	Availability Availability
}

// Gate runs the qualification, pairing and submission pipeline.
type Gate struct {
	cfg      Config
	deps     Dependencies
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	newID    func() string
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger used for outcome and stage logging.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gate) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithInvocationIDs overrides invocation id generation.
func WithInvocationIDs(fn func() string) Option {
	return func(g *Gate) {
		if fn != nil {
			g.newID = fn
		}
	}
}

// ErrInvalidDependencies is returned by New for incomplete wiring.
var ErrInvalidDependencies = errors.New("monitor: invalid dependencies")

// New validates the wiring and returns a Gate.
func New(cfg Config, deps Dependencies, opts ...Option) (*Gate, error) {
	switch {
	case deps.Filter == nil:
		return nil, fmt.Errorf("%w: eligibility filter is required", ErrInvalidDependencies)
	case deps.Selector == nil:
		return nil, fmt.Errorf("%w: pair selector is required", ErrInvalidDependencies)
	case deps.Oracle == nil:
		return nil, fmt.Errorf("%w: deduplication oracle is required", ErrInvalidDependencies)
	case deps.Submitter == nil:
		return nil, fmt.Errorf("%w: submitter is required", ErrInvalidDependencies)
	}
	for _, m := range scene.Missions {
		if !deps.Filter.Enabled(m) {
			continue
		}
		if deps.Catalogs[m] == nil {
			return nil, fmt.Errorf("%w: no catalog for enabled mission %s", ErrInvalidDependencies, m)
		}
		if _, ok := deps.Selector.Window(m); !ok {
			return nil, fmt.Errorf("%w: no pair window for enabled mission %s", ErrInvalidDependencies, m)
		}
	}
	cfg.Timeouts = withDefaults(cfg.Timeouts)

	g := &Gate{
		cfg:      cfg,
		deps:     deps,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func withDefaults(t Timeouts) Timeouts {
	if t.Resolve <= 0 {
		t.Resolve = DefaultTimeouts.Resolve
	}
	if t.Availability <= 0 {
		t.Availability = DefaultTimeouts.Availability
	}
	if t.Search <= 0 {
		t.Search = DefaultTimeouts.Search
	}
	if t.Dedup <= 0 {
		t.Dedup = DefaultTimeouts.Dedup
	}
	if t.Submit <= 0 {
		t.Submit = DefaultTimeouts.Submit
	}
	return t
}

// Process handles one raw notification body.
func (g *Gate) Process(ctx context.Context, raw []byte) Outcome {
	return g.invoke(ctx, "monitor.process", func(ctx context.Context) Outcome {
		n, err := ParseNotification(raw)
		if err != nil {
			return Failed(StageReceived, ReasonMalformedInput, err)
		}
		return g.run(ctx, n)
	})
}

// ProcessScene handles a scene id directly, as an operator replay would.
func (g *Gate) ProcessScene(ctx context.Context, sceneID string) Outcome {
	return g.invoke(ctx, "monitor.process_scene", func(ctx context.Context) Outcome {
		return g.run(ctx, Notification{SceneID: sceneID})
	})
}

// Candidates runs the pipeline up to pairing and returns the ranked pairs
// without consulting the deduplication stores or submitting. The returned
// Outcome has an empty Kind when pairs were found.
func (g *Gate) Candidates(ctx context.Context, sceneID string) ([]pairing.Pair, Outcome) {
	var pairs []pairing.Pair
	out := g.invoke(ctx, "monitor.candidates", func(ctx context.Context) Outcome {
		p, out := g.pair(ctx, Notification{SceneID: sceneID})
		pairs = p
		if out != nil {
			return *out
		}
		return Outcome{Stage: StagePaired}
	})
	return pairs, out
}

func (g *Gate) invoke(ctx context.Context, name string, fn func(context.Context) Outcome) (out Outcome) {
	id := g.newID()
	ctx = logging.WithFields(ctx, logging.Fields{InvocationID: id, Component: "monitor.gate"})
	ctx, span := g.tracer.Start(ctx, name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out = Failed(StageTerminal, ReasonInternal, fmt.Errorf("monitor: panic: %v", r))
		}
		out.InvocationID = id
		g.finish(ctx, span, out)
	}()
	return fn(ctx)
}

func (g *Gate) run(ctx context.Context, n Notification) Outcome {
	pairs, out := g.pair(ctx, n)
	if out != nil {
		return *out
	}
	ref := pairs[0].Reference
	ctx = logging.WithFields(ctx, logging.Fields{SceneID: ref.ID(), Mission: ref.Mission().String()})

	best, out := g.firstNew(ctx, pairs)
	if out != nil {
		return g.tag(*out, ref)
	}
	return g.tag(g.submit(ctx, best), ref)
}

// pair runs the Received, Filtered, Searched and Paired stages. The
// availability check belongs to the Filtered stage. A non-nil Outcome ends
// the invocation.
func (g *Gate) pair(ctx context.Context, n Notification) ([]pairing.Pair, *Outcome) {
	nameAttrs, err := scene.ParseName(n.SceneID)
	if err != nil {
		return nil, outcome(Failed(StageReceived, ReasonMalformedInput, err), scene.Attributes{ID: n.SceneID})
	}
	ctx = logging.WithFields(ctx, logging.Fields{SceneID: nameAttrs.ID, Mission: nameAttrs.Mission.String()})
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("scene.id", nameAttrs.ID),
		attribute.String("scene.mission", nameAttrs.Mission.String()),
	)

	partial, err := scene.New(nameAttrs)
	if err != nil {
		return nil, outcome(Failed(StageReceived, ReasonMalformedInput, err), nameAttrs)
	}
	if v := g.deps.Filter.Screen(partial); !v.Eligible {
		return nil, outcome(Skipped(StageReceived, Reason(v.Reason)), nameAttrs)
	}

	catalog := g.deps.Catalogs[partial.Mission()]
	attrs, out := g.describe(ctx, catalog, n, nameAttrs)
	if out != nil {
		return nil, outcome(*out, nameAttrs)
	}
	ref, err := scene.New(attrs)
	if err != nil {
		return nil, outcome(Failed(StageReceived, ReasonMalformedInput, err), nameAttrs)
	}
	if v := g.deps.Filter.Evaluate(ref); !v.Eligible {
		return nil, outcome(Skipped(StageFiltered, Reason(v.Reason)), attrs)
	}
	if g.deps.Availability != nil {
		err := g.call(ctx, "scene.availability", g.cfg.Timeouts.Availability, func(ctx context.Context) error {
			return g.deps.Availability.Check(ctx, ref)
		})
		if err != nil {
			return nil, outcome(Deferred(StageFiltered, ReasonSceneNotAvailable, err), attrs)
		}
	}

	req := g.deps.Selector.SearchRequest(ref)
	var found []scene.Descriptor
	err = g.call(ctx, "catalog.search", g.cfg.Timeouts.Search, func(ctx context.Context) error {
		var err error
		found, err = catalog.Search(ctx, req)
		return err
	})
	if err != nil {
		if isRejection(err) {
			return nil, outcome(Failed(StageSearched, ReasonApplicationRejection, err), attrs)
		}
		return nil, outcome(Deferred(StageSearched, ReasonCatalogUnavailable, err), attrs)
	}
	if len(found) == 0 {
		return nil, outcome(Skipped(StageSearched, ReasonNoCatalogCandidates), attrs)
	}

	candidates := make([]scene.Descriptor, 0, len(found))
	for _, c := range found {
		if v := g.deps.Filter.Evaluate(c); v.Eligible {
			candidates = append(candidates, c)
		} else {
			g.logger.DebugContext(ctx, "candidate not eligible", "candidate", c.ID(), "reason", v.Reason)
		}
	}

	pairs := g.deps.Selector.Select(ref, candidates)
	if len(pairs) == 0 {
		return nil, outcome(Skipped(StagePaired, ReasonNoCompatibleSecondary), attrs)
	}
	g.logger.InfoContext(ctx, "candidate pairs ranked", "found", len(found), "eligible", len(candidates), "pairs", len(pairs))
	return pairs, nil
}

// describe produces the full attributes of the reference scene from the
// embedded catalog record or a catalog lookup.
func (g *Gate) describe(ctx context.Context, catalog Catalog, n Notification, nameAttrs scene.Attributes) (scene.Attributes, *Outcome) {
	if len(n.Item) > 0 {
		attrs, err := catalog.Decode(n.Item)
		if err != nil {
			out := Failed(StageReceived, ReasonMalformedInput, err)
			return scene.Attributes{}, &out
		}
		return scene.Merge(nameAttrs, attrs), nil
	}

	var attrs scene.Attributes
	err := g.call(ctx, "catalog.resolve", g.cfg.Timeouts.Resolve, func(ctx context.Context) error {
		var err error
		attrs, err = catalog.Resolve(ctx, nameAttrs.ID)
		return err
	})
	switch {
	case err == nil:
		return scene.Merge(nameAttrs, attrs), nil
	case errors.Is(err, scene.ErrNotFound):
		out := Deferred(StageReceived, ReasonSceneNotIndexed, err)
		return scene.Attributes{}, &out
	case errors.Is(err, scene.ErrMalformed):
		out := Failed(StageReceived, ReasonMalformedInput, err)
		return scene.Attributes{}, &out
	case isRejection(err):
		out := Failed(StageReceived, ReasonApplicationRejection, err)
		return scene.Attributes{}, &out
	default:
		out := Deferred(StageReceived, ReasonCatalogUnavailable, err)
		return scene.Attributes{}, &out
	}
}

// firstNew returns the best ranked pair that is neither published nor in
// flight. Any oracle failure defers the whole invocation.
func (g *Gate) firstNew(ctx context.Context, pairs []pairing.Pair) (pairing.Pair, *Outcome) {
	for _, p := range pairs {
		var res dedup.Result
		err := g.call(ctx, "dedup.check", g.cfg.Timeouts.Dedup, func(ctx context.Context) error {
			var err error
			res, err = g.deps.Oracle.Check(ctx, p)
			return err
		})
		if err != nil {
			out := Deferred(StageDeduplicated, ReasonDedupUnavailable, err)
			out.PairKey = p.Key
			return pairing.Pair{}, &out
		}
		if !res.Duplicate() {
			return p, nil
		}
		g.logger.DebugContext(ctx, "pair already handled",
			"pair", p.Key, "verdict", res.Verdict.String(), "status", res.Status, "evidence", res.Evidence)
	}
	out := Skipped(StageDeduplicated, ReasonAllCandidatesDuplicate)
	return pairing.Pair{}, &out
}

func (g *Gate) submit(ctx context.Context, p pairing.Pair) Outcome {
	var jobID string
	err := g.call(ctx, "job.submit", g.cfg.Timeouts.Submit, func(ctx context.Context) error {
		var err error
		jobID, err = g.deps.Submitter.Submit(ctx, p, g.cfg.Parameters)
		return err
	})
	var out Outcome
	switch {
	case err == nil:
		out = Submitted(p.Key, jobID)
	case isDuplicateSubmission(err):
		out = Skipped(StageTerminal, ReasonDuplicateSubmission)
		g.logger.WarnContext(ctx, "concurrent duplicate submission rejected", "pair", p.Key, "error", err)
	case isRejection(err):
		out = Failed(StageTerminal, ReasonApplicationRejection, err)
	default:
		out = Deferred(StageTerminal, ReasonSubmissionUnavailable, err)
	}
	out.PairKey = p.Key
	return out
}

// call runs fn under its own timeout inside a child span and records it.
func (g *Gate) call(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := g.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	g.recorder.ObserveCall(name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Gate) finish(ctx context.Context, span trace.Span, out Outcome) {
	span.SetAttributes(
		attribute.String("outcome.kind", string(out.Kind)),
		attribute.String("outcome.reason", string(out.Reason)),
		attribute.String("outcome.stage", string(out.Stage)),
	)
	if out.PairKey != "" {
		span.SetAttributes(attribute.String("pair.key", out.PairKey))
	}
	if out.Kind == KindFailed || out.Kind == KindDeferred {
		span.SetStatus(codes.Error, string(out.Reason))
	}
	if out.Kind == "" {
		return
	}
	g.recorder.RecordOutcome(out)

	ctx = logging.WithFields(ctx, logging.Fields{SceneID: out.SceneID, Mission: out.Mission.String()})
	attrs := []any{
		"kind", out.Kind,
		"reason", out.Reason,
		"stage", out.Stage,
	}
	if out.PairKey != "" {
		attrs = append(attrs, "pair", out.PairKey)
	}
	if out.JobID != "" {
		attrs = append(attrs, "job_id", out.JobID)
	}
	if out.Err != nil {
		attrs = append(attrs, "error", out.Err)
	}
	switch out.Kind {
	case KindFailed:
		g.logger.ErrorContext(ctx, "scene failed", attrs...)
	case KindDeferred:
		g.logger.WarnContext(ctx, "scene deferred", attrs...)
	default:
		g.logger.InfoContext(ctx, "scene processed", attrs...)
	}
}

func (g *Gate) tag(out Outcome, ref scene.Descriptor) Outcome {
	out.SceneID = ref.ID()
	out.Mission = ref.Mission()
	return out
}

func outcome(out Outcome, attrs scene.Attributes) *Outcome {
	out.SceneID = attrs.ID
	out.Mission = attrs.Mission
	return &out
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(Outcome)                    {}
func (nopRecorder) ObserveCall(string, time.Duration, error) {}
