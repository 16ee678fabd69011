// Package dedup decides whether a candidate pair was already published or is
// already being processed, consulting the product store before the job store.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

// Verdict classifies a pair against prior work.
type Verdict int

const (
	NotDuplicate Verdict = iota
	AlreadyPublished
	AlreadySubmitted
)

func (v Verdict) String() string {
	switch v {
	case AlreadyPublished:
		return "already_published"
	case AlreadySubmitted:
		return "already_submitted"
	default:
		return "not_duplicate"
	}
}

// Active job statuses. Finished or failed jobs do not block resubmission.
const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
)

// ActiveStatuses lists the job statuses treated as in flight.
var ActiveStatuses = []string{StatusPending, StatusRunning}

// Result is the oracle's answer for one pair.
type Result struct {
	Verdict Verdict
	// Status is the job status for AlreadySubmitted.
	Status string
	// Evidence is the object key or job id that proved the duplicate.
	Evidence string
}

// Duplicate reports whether the pair must not be submitted.
func (r Result) Duplicate() bool { return r.Verdict != NotDuplicate }

// ProductStore lists published artifacts by key prefix.
type ProductStore interface {
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// JobQuery selects job records that may represent a pair.
type JobQuery struct {
	Mission     scene.Mission
	PairKey     string
	Granules    [2]string
	Environment string
	Statuses    []string
}

// JobRecord is a job known to the processing backend.
type JobRecord struct {
	ID       string
	Name     string
	Status   string
	Granules []string
}

// PairKey returns the canonical key of the job's granules, or "" if the job
// does not reference exactly two granules.
func (r JobRecord) PairKey() string {
	if len(r.Granules) != 2 {
		return ""
	}
	return pairing.Key(r.Granules[0], r.Granules[1])
}

// JobStore returns job records matching a query.
type JobStore interface {
	FindActive(ctx context.Context, q JobQuery) ([]JobRecord, error)
}

// ErrStoreUnavailable wraps failures of either store.
var ErrStoreUnavailable = errors.New("dedup: store unavailable")

// Oracle checks pairs against the product and job stores.
type Oracle struct {
	products    ProductStore
	jobs        JobStore
	layout      Layout
	environment string
	timeout     time.Duration
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithLayout overrides the product store layout.
func WithLayout(l Layout) Option {
	return func(o *Oracle) { o.layout = l }
}

// WithEnvironment scopes job lookups to a deployment environment.
func WithEnvironment(env string) Option {
	return func(o *Oracle) { o.environment = env }
}

// WithCallTimeout bounds every individual store call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOracle builds an Oracle over the two stores.
func NewOracle(products ProductStore, jobs JobStore, opts ...Option) *Oracle {
	o := &Oracle{
		products: products,
		jobs:     jobs,
		layout:   DefaultLayout(),
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Check reports whether p is already published or in flight. The product
// store is consulted first and a hit short-circuits the job store lookup.
// Any store error is returned wrapped in ErrStoreUnavailable.
func (o *Oracle) Check(ctx context.Context, p pairing.Pair) (Result, error) {
	if o.products != nil {
		for _, prefix := range o.layout.Prefixes(p) {
			key, err := o.findArtifact(ctx, prefix, p.Key)
			if err != nil {
				return Result{}, err
			}
			if key != "" {
				return Result{Verdict: AlreadyPublished, Evidence: key}, nil
			}
		}
	}

	if o.jobs == nil {
		return Result{Verdict: NotDuplicate}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	records, err := o.jobs.FindActive(callCtx, JobQuery{
		Mission:     p.Mission(),
		PairKey:     p.Key,
		Granules:    p.Granules(),
		Environment: o.environment,
		Statuses:    ActiveStatuses,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: job store: %w", ErrStoreUnavailable, err)
	}
	for _, r := range records {
		if !isActive(r.Status) {
			continue
		}
		if r.PairKey() == p.Key {
			return Result{Verdict: AlreadySubmitted, Status: r.Status, Evidence: r.ID}, nil
		}
	}
	return Result{Verdict: NotDuplicate}, nil
}

func (o *Oracle) findArtifact(ctx context.Context, prefix, pairKey string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	keys, err := o.products.ListByPrefix(callCtx, prefix)
	if err != nil {
		return "", fmt.Errorf("%w: product store %q: %w", ErrStoreUnavailable, prefix, err)
	}
	for _, key := range keys {
		if strings.Contains(key, pairKey) && strings.HasSuffix(key, o.layout.ArtifactSuffix) {
			return key, nil
		}
	}
	return "", nil
}

func isActive(status string) bool {
	for _, s := range ActiveStatuses {
		if strings.EqualFold(status, s) {
			return true
		}
	}
	return false
}
