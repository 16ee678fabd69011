package monitor

import (
	"context"
	"log/slog"

	"github.com/example/go-itslive/monitor/pairing"
)

// DryRunJobID is returned by DryRun in place of a real job id.
const DryRunJobID = "dry-run"

// DryRun is a Submitter that logs the pair it would submit.
type DryRun struct {
	Logger *slog.Logger
}

// Submit implements Submitter without contacting the processing service.
func (d DryRun) Submit(ctx context.Context, p pairing.Pair, params Parameters) (string, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := p.Granules()
	logger.InfoContext(ctx, "dry run: pair not submitted",
		"pair", p.Key,
		"granules", g[:],
		"job_type", params.JobType,
		"publish_bucket", params.PublishBucket,
	)
	return DryRunJobID, nil
}
