package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor/dedup"
	"github.com/example/go-itslive/monitor/eligibility"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

const (
	day      = 24 * time.Hour
	refID    = "LC08_L1TP_138041_20240128_20240207_02_T1"
	refStamp = "2024-01-28T04:29:49.123456Z"
)

var refTime = time.Date(2024, 1, 28, 4, 29, 49, 123456000, time.UTC)

type fakeCatalog struct {
	mu       sync.Mutex
	resolved map[string]scene.Attributes
	decoded  scene.Attributes
	results  []scene.Descriptor

	resolveErr error
	searchFn   func(ctx context.Context, calls int) ([]scene.Descriptor, error)

	resolves int
	decodes  int
	searches int
	requests []pairing.SearchRequest
}

func (c *fakeCatalog) Resolve(_ context.Context, id string) (scene.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolves++
	if c.resolveErr != nil {
		return scene.Attributes{}, c.resolveErr
	}
	attrs, ok := c.resolved[id]
	if !ok {
		return scene.Attributes{}, fmt.Errorf("fake: %s: %w", id, scene.ErrNotFound)
	}
	return attrs, nil
}

func (c *fakeCatalog) Decode(item json.RawMessage) (scene.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodes++
	var payload struct {
		Datetime string `json:"datetime"`
	}
	if err := json.Unmarshal(item, &payload); err != nil {
		return scene.Attributes{}, err
	}
	attrs := c.decoded
	if payload.Datetime != "" {
		t, err := scene.ParseTime(payload.Datetime)
		if err != nil {
			return scene.Attributes{}, err
		}
		attrs.Acquired = t
	}
	return attrs, nil
}

func (c *fakeCatalog) Search(ctx context.Context, req pairing.SearchRequest) ([]scene.Descriptor, error) {
	c.mu.Lock()
	c.searches++
	calls := c.searches
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.searchFn != nil {
		return c.searchFn(ctx, calls)
	}
	return c.results, nil
}

func (c *fakeCatalog) remoteCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolves + c.searches
}

type fakeProducts struct{ keys []string }

func (f *fakeProducts) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for _, k := range f.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

type fakeJobs struct {
	records []dedup.JobRecord
	err     error
	calls   int
}

func (f *fakeJobs) FindActive(context.Context, dedup.JobQuery) ([]dedup.JobRecord, error) {
	f.calls++
	return f.records, f.err
}

type fakeSubmitter struct {
	mu     sync.Mutex
	err    error
	pairs  []pairing.Pair
	params []Parameters
}

func (s *fakeSubmitter) Submit(_ context.Context, p pairing.Pair, params Parameters) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, p)
	s.params = append(s.params, params)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("job-%d", len(s.pairs)), nil
}

type fakeAvailability struct {
	err     error
	checked []string
}

func (f *fakeAvailability) Check(_ context.Context, d scene.Descriptor) error {
	f.checked = append(f.checked, d.ID())
	return f.err
}

type recorder struct {
	outcomes []Outcome
	calls    map[string]int
}

func (r *recorder) RecordOutcome(o Outcome) { r.outcomes = append(r.outcomes, o) }
func (r *recorder) ObserveCall(name string, _ time.Duration, _ error) {
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[name]++
}

type harness struct {
	gate         *Gate
	catalog      *fakeCatalog
	products     *fakeProducts
	jobs         *fakeJobs
	submitter    *fakeSubmitter
	availability *fakeAvailability
	recorder     *recorder
}

func landsatCandidate(id string, offset time.Duration, cloud float64) scene.Descriptor {
	return scene.MustNew(scene.Attributes{
		ID:            id,
		Mission:       scene.MissionLandsat,
		Acquired:      refTime.Add(offset),
		Tile:          "138041",
		RelativeOrbit: 138,
		Tier:          "T1",
		Metrics:       map[string]float64{scene.MetricCloudCover: cloud},
	})
}

func newHarness(t *testing.T, timeouts Timeouts) *harness {
	t.Helper()
	h := &harness{
		catalog: &fakeCatalog{
			resolved: map[string]scene.Attributes{
				refID: {Acquired: refTime, Metrics: map[string]float64{scene.MetricCloudCover: 10}},
			},
			results: []scene.Descriptor{
				landsatCandidate("LC09_L1TP_138041_20240112_20240113_02_T1", -16*day, 20),
				landsatCandidate("LC08_L1TP_138041_20231227_20240105_02_T1", -32*day, 5),
				landsatCandidate("LC09_L1TP_138041_20240120_20240121_02_T2", -8*day, 30),
				landsatCandidate("LC09_L1TP_138041_20240104_20240105_02_T1", -24*day, 90),
			},
		},
		products:     &fakeProducts{},
		jobs:         &fakeJobs{},
		submitter:    &fakeSubmitter{},
		availability: &fakeAvailability{},
		recorder:     &recorder{},
	}
	filter := eligibility.NewFilter(map[scene.Mission]eligibility.Rules{
		scene.MissionLandsat: {
			Enabled:       true,
			Tiers:         []string{"T1", "T2"},
			Mask:          eligibility.NewMask([]string{"138041"}),
			CloudCover:    true,
			MaxCloudCover: 60,
		},
	})
	selector := pairing.NewSelector(map[scene.Mission]pairing.Window{
		scene.MissionLandsat: {Min: time.Second, Max: 544 * day},
	})
	gate, err := New(
		Config{Environment: "test", Timeouts: timeouts, Parameters: Parameters{JobType: "AUTORIFT", PublishBucket: "its-live-data-test"}},
		Dependencies{
			Filter:       filter,
			Selector:     selector,
			Catalogs:     Catalogs{scene.MissionLandsat: h.catalog},
			Oracle:       dedup.NewOracle(h.products, h.jobs),
			Submitter:    h.submitter,
			Availability: h.availability,
		},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRecorder(h.recorder),
		WithInvocationIDs(func() string { return "inv-test" }),
	)
	require.NoError(t, err)
	h.gate = gate
	return h
}

func body(t *testing.T, message map[string]any) []byte {
	t.Helper()
	inner, err := json.Marshal(message)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]any{"Type": "Notification", "Message": string(inner)})
	require.NoError(t, err)
	return outer
}

func TestProcessSubmitsNearestPair(t *testing.T) {
	h := newHarness(t, Timeouts{})
	out := h.gate.Process(context.Background(), body(t, map[string]any{"landsat_product_id": refID}))

	nearest := "LC09_L1TP_138041_20240120_20240121_02_T2"
	require.Equal(t, KindSubmitted, out.Kind, out.String())
	assert.Equal(t, pairing.Key(refID, nearest), out.PairKey)
	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, StageTerminal, out.Stage)
	assert.Equal(t, refID, out.SceneID)
	assert.Equal(t, scene.MissionLandsat, out.Mission)
	assert.Equal(t, "inv-test", out.InvocationID)

	require.Len(t, h.submitter.pairs, 1)
	assert.Equal(t, refID, h.submitter.pairs[0].Reference.ID())
	assert.Equal(t, "its-live-data-test", h.submitter.params[0].PublishBucket)
	assert.Equal(t, 1, h.catalog.resolves)
	assert.Equal(t, 1, h.catalog.searches)
	assert.Equal(t, "138041", h.catalog.requests[0].Tile)

	require.Len(t, h.recorder.outcomes, 1)
	assert.Equal(t, 1, h.recorder.calls["job.submit"])
	assert.Equal(t, []string{refID}, h.availability.checked)
}

func TestProcessDefersSceneNotYetAvailable(t *testing.T) {
	h := newHarness(t, Timeouts{})
	h.availability.err = errors.New("gcs: scene not mirrored")

	out := h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, KindDeferred, out.Kind)
	assert.Equal(t, ReasonSceneNotAvailable, out.Reason)
	assert.Equal(t, StageFiltered, out.Stage)
	assert.Equal(t, refID, out.SceneID)
	assert.Zero(t, h.catalog.searches)
	assert.Zero(t, h.jobs.calls)
	assert.Empty(t, h.submitter.pairs)
	assert.Equal(t, 1, h.recorder.calls["scene.availability"])

	h.gate.deps.Availability = nil
	out = h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, KindSubmitted, out.Kind, out.String())
	assert.Len(t, h.availability.checked, 1)
}

func TestProcessUnknownCloudCoverSkipsWithoutSearch(t *testing.T) {
	h := newHarness(t, Timeouts{})
	h.catalog.decoded = scene.Attributes{Tile: "138041"}

	out := h.gate.Process(context.Background(), body(t, map[string]any{
		"landsat_product_id": refID,
		"item":               map[string]any{"datetime": refStamp},
	}))

	assert.Equal(t, KindSkipped, out.Kind)
	assert.Equal(t, ReasonUnknownQualityMetric, out.Reason)
	assert.Equal(t, StageFiltered, out.Stage)
	assert.Equal(t, 0, h.catalog.remoteCalls())
	assert.Equal(t, 1, h.catalog.decodes)
	assert.Empty(t, h.submitter.pairs)
	assert.Empty(t, h.availability.checked)
	assert.Zero(t, h.jobs.calls)
}

func TestProcessNegativeCloudCoverIsUnknown(t *testing.T) {
	h := newHarness(t, Timeouts{})
	h.catalog.resolved[refID] = scene.Attributes{Acquired: refTime, Metrics: map[string]float64{scene.MetricCloudCover: -1}}

	out := h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, ReasonUnknownQualityMetric, out.Reason)
	assert.Zero(t, h.catalog.searches)
}

func TestProcessIneligibleNameMakesNoRemoteCalls(t *testing.T) {
	h := newHarness(t, Timeouts{})
	for id, reason := range map[string]Reason{
		"LC08_L1TP_138041_20240128_20240207_02_RT": ReasonUnapprovedTier,
		"LC08_L1TP_001001_20240128_20240207_02_T1": ReasonNotOverLandIce,
		"LE07_L1TP_138041_20240128_20240207_02_T1": ReasonUnsupportedMission,
		"S2B_MSIL1C_20200315T152259_N0209_R039_T13CES_20200315T181115": ReasonMissionDisabled,
	} {
		out := h.gate.Process(context.Background(), body(t, map[string]any{"name": id}))
		assert.Equal(t, KindSkipped, out.Kind, id)
		assert.Equal(t, reason, out.Reason, id)
		assert.Equal(t, StageReceived, out.Stage, id)
	}
	assert.Equal(t, 0, h.catalog.remoteCalls())
	assert.Zero(t, h.jobs.calls)
	assert.Empty(t, h.submitter.pairs)
}

func TestProcessAllCandidatesDuplicate(t *testing.T) {
	h := newHarness(t, Timeouts{})
	h.catalog.results = h.catalog.results[:3]
	nearest := "LC09_L1TP_138041_20240120_20240121_02_T2"
	h.products.keys = []string{
		"velocity_image_pair/landsatOLI/v02/" + pairing.Key(refID, nearest) + "_G0120V02_P099.nc",
	}
	h.jobs.records = []dedup.JobRecord{
		{ID: "j1", Status: dedup.StatusPending, Granules: []string{refID, "LC09_L1TP_138041_20240112_20240113_02_T1"}},
		{ID: "j2", Status: dedup.StatusRunning, Granules: []string{"LC08_L1TP_138041_20231227_20240105_02_T1", refID}},
	}

	out := h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, KindSkipped, out.Kind)
	assert.Equal(t, ReasonAllCandidatesDuplicate, out.Reason)
	assert.Equal(t, StageDeduplicated, out.Stage)
	assert.Empty(t, h.submitter.pairs)
}

func TestProcessSkipsDuplicateAndSubmitsNext(t *testing.T) {
	h := newHarness(t, Timeouts{})
	nearest := "LC09_L1TP_138041_20240120_20240121_02_T2"
	h.jobs.records = []dedup.JobRecord{{ID: "j1", Status: dedup.StatusRunning, Granules: []string{nearest, refID}}}

	out := h.gate.ProcessScene(context.Background(), refID)
	require.Equal(t, KindSubmitted, out.Kind)
	assert.Equal(t, pairing.Key(refID, "LC09_L1TP_138041_20240112_20240113_02_T1"), out.PairKey)
	assert.Len(t, h.submitter.pairs, 1)
}

func TestProcessCatalogTimeoutDefersThenSucceeds(t *testing.T) {
	h := newHarness(t, Timeouts{Search: 20 * time.Millisecond})
	results := h.catalog.results
	h.catalog.searchFn = func(ctx context.Context, calls int) ([]scene.Descriptor, error) {
		if calls == 1 {
			<-ctx.Done()
			return nil, fmt.Errorf("stac: search: %w", ctx.Err())
		}
		return results, nil
	}
	msg := body(t, map[string]any{"landsat_product_id": refID})

	first := h.gate.Process(context.Background(), msg)
	assert.Equal(t, KindDeferred, first.Kind)
	assert.Equal(t, ReasonCatalogUnavailable, first.Reason)
	assert.True(t, first.Retryable())
	assert.ErrorIs(t, first.Err, context.DeadlineExceeded)
	assert.Empty(t, h.submitter.pairs)

	second := h.gate.Process(context.Background(), msg)
	assert.Equal(t, KindSubmitted, second.Kind)
	assert.Len(t, h.submitter.pairs, 1)
}

func TestProcessSearchOutcomes(t *testing.T) {
	t.Run("no candidates", func(t *testing.T) {
		h := newHarness(t, Timeouts{})
		h.catalog.results = nil
		out := h.gate.ProcessScene(context.Background(), refID)
		assert.Equal(t, ReasonNoCatalogCandidates, out.Reason)
		assert.Equal(t, StageSearched, out.Stage)
	})
	t.Run("no compatible secondary", func(t *testing.T) {
		h := newHarness(t, Timeouts{})
		h.catalog.results = []scene.Descriptor{
			landsatCandidate(refID, 0, 10),
			landsatCandidate("LC09_L1TP_138041_20220120_20220121_02_T1", -700*day, 10),
			landsatCandidate("LC09_L1TP_138041_20240104_20240105_02_T1", -24*day, 90),
		}
		out := h.gate.ProcessScene(context.Background(), refID)
		assert.Equal(t, ReasonNoCompatibleSecondary, out.Reason)
		assert.Equal(t, StagePaired, out.Stage)
	})
	t.Run("rejected query", func(t *testing.T) {
		h := newHarness(t, Timeouts{})
		h.catalog.searchFn = func(context.Context, int) ([]scene.Descriptor, error) {
			return nil, &internalhttp.StatusError{Status: 400, Body: "bad query"}
		}
		out := h.gate.ProcessScene(context.Background(), refID)
		assert.Equal(t, KindFailed, out.Kind)
		assert.Equal(t, ReasonApplicationRejection, out.Reason)
	})
}

func TestProcessResolveOutcomes(t *testing.T) {
	h := newHarness(t, Timeouts{})
	delete(h.catalog.resolved, refID)
	out := h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, KindDeferred, out.Kind)
	assert.Equal(t, ReasonSceneNotIndexed, out.Reason)

	h.catalog.resolveErr = &internalhttp.StatusError{Status: 502}
	out = h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, ReasonCatalogUnavailable, out.Reason)
	assert.Zero(t, h.catalog.searches)
}

func TestProcessSubmissionOutcomes(t *testing.T) {
	cases := []struct {
		err    error
		kind   Kind
		reason Reason
	}{
		{&internalhttp.StatusError{Status: 503}, KindDeferred, ReasonSubmissionUnavailable},
		{context.DeadlineExceeded, KindDeferred, ReasonSubmissionUnavailable},
		{&internalhttp.StatusError{Status: 409}, KindSkipped, ReasonDuplicateSubmission},
		{fmt.Errorf("hyp3: %w", ErrDuplicateSubmission), KindSkipped, ReasonDuplicateSubmission},
		{&internalhttp.StatusError{Status: 400}, KindFailed, ReasonApplicationRejection},
	}
	for _, tc := range cases {
		h := newHarness(t, Timeouts{})
		h.submitter.err = tc.err
		out := h.gate.ProcessScene(context.Background(), refID)
		assert.Equal(t, tc.kind, out.Kind, tc.err.Error())
		assert.Equal(t, tc.reason, out.Reason, tc.err.Error())
		assert.NotEmpty(t, out.PairKey)
		assert.Len(t, h.submitter.pairs, 1, "exactly one submission attempt")
	}
}

func TestProcessDedupFailureDefers(t *testing.T) {
	h := newHarness(t, Timeouts{})
	h.jobs.err = errors.New("dynamodb: throttled")
	out := h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, KindDeferred, out.Kind)
	assert.Equal(t, ReasonDedupUnavailable, out.Reason)
	assert.Empty(t, h.submitter.pairs)
}

func TestProcessMalformedInput(t *testing.T) {
	h := newHarness(t, Timeouts{})
	for _, raw := range [][]byte{
		[]byte("not json"),
		[]byte(`{"Type":"Notification","Message":"{}"}`),
		body(t, map[string]any{"landsat_product_id": "LC08_L1TP_138041_2024_20240207_02_T1"}),
		body(t, map[string]any{"landsat_product_id": refID, "item": map[string]any{"datetime": "last tuesday"}}),
	} {
		out := h.gate.Process(context.Background(), raw)
		assert.Equal(t, KindFailed, out.Kind, string(raw))
		assert.Equal(t, ReasonMalformedInput, out.Reason, string(raw))
	}
	assert.Equal(t, 0, h.catalog.remoteCalls())
}

func TestProcessRecoversPanics(t *testing.T) {
	h := newHarness(t, Timeouts{})
	h.catalog.searchFn = func(context.Context, int) ([]scene.Descriptor, error) { panic("boom") }
	out := h.gate.ProcessScene(context.Background(), refID)
	assert.Equal(t, KindFailed, out.Kind)
	assert.Equal(t, ReasonInternal, out.Reason)
	assert.Equal(t, "inv-test", out.InvocationID)
}

func TestCandidatesDoesNotSubmit(t *testing.T) {
	h := newHarness(t, Timeouts{})
	pairs, out := h.gate.Candidates(context.Background(), refID)
	assert.Empty(t, out.Kind)
	require.Len(t, pairs, 3)
	assert.Equal(t, "LC09_L1TP_138041_20240120_20240121_02_T2", pairs[0].Secondary.ID())
	assert.Zero(t, h.jobs.calls)
	assert.Empty(t, h.submitter.pairs)
	assert.Empty(t, h.recorder.outcomes)
}

func TestNewValidatesWiring(t *testing.T) {
	filter := eligibility.NewFilter(map[scene.Mission]eligibility.Rules{scene.MissionLandsat: {Enabled: true}})
	selector := pairing.NewSelector(map[scene.Mission]pairing.Window{scene.MissionLandsat: {Max: day}})
	oracle := dedup.NewOracle(nil, nil)

	_, err := New(Config{}, Dependencies{Selector: selector, Oracle: oracle, Submitter: DryRun{}})
	assert.ErrorIs(t, err, ErrInvalidDependencies)

	_, err = New(Config{}, Dependencies{Filter: filter, Selector: selector, Oracle: oracle, Submitter: DryRun{}})
	assert.ErrorIs(t, err, ErrInvalidDependencies)

	_, err = New(Config{}, Dependencies{
		Filter: filter, Selector: selector, Oracle: oracle, Submitter: DryRun{},
		Catalogs: Catalogs{scene.MissionLandsat: &fakeCatalog{}},
	})
	assert.NoError(t, err)
}

func TestDryRunSubmitter(t *testing.T) {
	ref := landsatCandidate(refID, 0, 1)
	sec := landsatCandidate("LC09_b", -8*day, 1)
	id, err := DryRun{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}.Submit(context.Background(), pairing.NewPair(ref, sec), Parameters{})
	require.NoError(t, err)
	assert.Equal(t, DryRunJobID, id)
}
