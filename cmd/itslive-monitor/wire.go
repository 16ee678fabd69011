package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/paulmach/orb"

	"github.com/example/go-itslive/internal/config"
	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/internal/metrics"
	"github.com/example/go-itslive/internal/tiles"
	"github.com/example/go-itslive/monitor"
	"github.com/example/go-itslive/monitor/dedup"
	"github.com/example/go-itslive/monitor/eligibility"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
	"github.com/example/go-itslive/pkg/asf"
	"github.com/example/go-itslive/pkg/gcs"
	"github.com/example/go-itslive/pkg/hyp3"
	"github.com/example/go-itslive/pkg/jobs"
	"github.com/example/go-itslive/pkg/products"
	"github.com/example/go-itslive/pkg/stac"
)

// app holds the process-wide state shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Manager
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// buildGate wires the adapters into a Gate. Without submit the gate logs
// the selected pair instead of calling HyP3.
func (a *app) buildGate(ctx context.Context, submit bool) (*monitor.Gate, error) {
	awsCfg, err := loadAWSConfig(ctx, a.cfg.AWS)
	if err != nil {
		return nil, err
	}
	s3Client := s3.NewFromConfig(awsCfg)
	httpClient := internalhttp.NewClient(a.cfg.Timeouts.HTTP)

	filter, err := buildFilter(ctx, a.cfg, tiles.NewS3Loader(s3Client))
	if err != nil {
		return nil, err
	}
	catalogs, err := buildCatalogs(a.cfg, httpClient)
	if err != nil {
		return nil, err
	}

	// HyP3 accepts the Earthdata Login session cookies; the catalogs get a
	// separate client so their requests never carry them.
	hyp3HTTP := internalhttp.NewClient(a.cfg.Timeouts.HTTP)
	edl, err := internalhttp.NewEarthdataLogin(hyp3HTTP, a.cfg.HyP3.Username, a.cfg.HyP3.Password)
	if err != nil {
		return nil, err
	}
	hyp3Client := hyp3.NewClient(
		hyp3.WithBaseURL(a.cfg.HyP3.URL),
		hyp3.WithUserID(a.cfg.HyP3.Username),
		hyp3.WithDoer(internalhttp.NewSession(
			internalhttp.WithHTTPClient(hyp3HTTP),
			internalhttp.WithUserAgent(userAgent),
			internalhttp.WithAuthenticator(edl),
		)),
	)

	productStore, err := products.NewStore(s3Client, a.cfg.Products.Bucket, products.WithMaxPages(a.cfg.Products.MaxPages))
	if err != nil {
		return nil, err
	}
	var jobStore dedup.JobStore = hyp3Client
	if a.cfg.Jobs.Backend == config.JobsDynamoDB {
		jobStore, err = jobs.NewStore(dynamodb.NewFromConfig(awsCfg), a.cfg.Jobs.Tables,
			jobs.WithStatusIndex(a.cfg.Jobs.StatusIndex),
			jobs.WithUserID(a.cfg.HyP3.Username),
			jobs.WithJobType(a.cfg.HyP3.JobType),
		)
		if err != nil {
			return nil, err
		}
	}

	var submitter monitor.Submitter = monitor.DryRun{Logger: a.logger}
	if submit {
		submitter = hyp3Client
	}

	return monitor.New(a.cfg.Monitor(), monitor.Dependencies{
		Filter:       filter,
		Selector:     pairing.NewSelector(a.cfg.Windows(), pairing.WithSearchHalfWidth(a.cfg.SearchHalfWidth)),
		Catalogs:     catalogs,
		Oracle:       dedup.NewOracle(productStore, jobStore, dedup.WithEnvironment(a.cfg.Environment), dedup.WithCallTimeout(a.cfg.Timeouts.Dedup)),
		Submitter:    submitter,
		Availability: buildAvailability(a.cfg, httpClient),
	}, monitor.WithLogger(a.logger), monitor.WithRecorder(a.metrics))
}

// buildAvailability returns the Sentinel-2 mirror check, or nil when
// Sentinel-2 is disabled or no mirror is configured. HyP3 downloads
// Sentinel-2 scenes from the Google Cloud mirror, which lags the catalog.
func buildAvailability(cfg *config.Config, httpClient *http.Client) monitor.Availability {
	if !cfg.Sentinel2.Enabled || cfg.Catalog.Sentinel2MirrorURL == "" {
		return nil
	}
	return gcs.NewMirror(
		gcs.WithBaseURL(cfg.Catalog.Sentinel2MirrorURL),
		gcs.WithDoer(internalhttp.NewSession(
			internalhttp.WithHTTPClient(httpClient),
			internalhttp.WithUserAgent(userAgent),
		)),
	)
}

func buildFilter(ctx context.Context, cfg *config.Config, loader *tiles.Loader) (*eligibility.Filter, error) {
	rules := make(map[scene.Mission]eligibility.Rules, len(scene.Missions))
	for _, m := range scene.Missions {
		mc, _ := cfg.Mission(m)
		var mask *eligibility.Mask
		if mc.Enabled {
			var err error
			if mask, err = loadMask(ctx, loader, mc); err != nil {
				return nil, fmt.Errorf("%s land-ice mask: %w", m, err)
			}
		}
		rules[m] = mc.Rules(mask)
	}
	return eligibility.NewFilter(rules), nil
}

// errNoMask is returned for an enabled mission without tile or region sources;
// a nil mask would admit every scene.
var errNoMask = errors.New("no tiles or regions source configured")

func loadMask(ctx context.Context, loader *tiles.Loader, mc config.MissionConfig) (*eligibility.Mask, error) {
	if mc.Tiles == "" && mc.Regions == "" {
		return nil, errNoMask
	}
	var (
		tileIDs []string
		regions []orb.Polygon
		err     error
	)
	if mc.Tiles != "" {
		if tileIDs, err = loader.Tiles(ctx, mc.Tiles); err != nil {
			return nil, err
		}
	}
	if mc.Regions != "" {
		if regions, err = loader.Regions(ctx, mc.Regions); err != nil {
			return nil, err
		}
	}
	return eligibility.NewMask(tileIDs, regions...), nil
}

func buildCatalogs(cfg *config.Config, httpClient *http.Client) (monitor.Catalogs, error) {
	session := internalhttp.NewSession(
		internalhttp.WithHTTPClient(httpClient),
		internalhttp.WithUserAgent(userAgent),
	)
	catalogs := monitor.Catalogs{}

	stacCatalogs := []struct {
		mission scene.Mission
		url     string
		rules   config.MissionConfig
	}{
		{scene.MissionLandsat, cfg.Catalog.LandsatURL, cfg.Landsat},
		{scene.MissionSentinel2, cfg.Catalog.Sentinel2URL, cfg.Sentinel2},
	}
	for _, sc := range stacCatalogs {
		if !sc.rules.Enabled {
			continue
		}
		opts := []stac.Option{
			stac.WithBaseURL(sc.url),
			stac.WithDoer(session),
			stac.WithPageSize(cfg.Catalog.PageSize),
			stac.WithMaxPages(cfg.Catalog.MaxPages),
		}
		if sc.rules.CloudCover {
			opts = append(opts, stac.WithCloudCeiling(sc.rules.MaxCloudCover))
		}
		client, err := stac.NewClient(sc.mission, opts...)
		if err != nil {
			return nil, err
		}
		catalogs[sc.mission] = client
	}

	if cfg.Sentinel1.Enabled {
		opts := []asf.Option{asf.WithBaseURL(cfg.Catalog.ASFURL), asf.WithDoer(session)}
		if cfg.Catalog.ASFToken != "" {
			opts = append(opts, asf.WithDoer(internalhttp.NewSession(
				internalhttp.WithHTTPClient(httpClient),
				internalhttp.WithUserAgent(userAgent),
				internalhttp.WithAuthenticator(internalhttp.BearerToken(cfg.Catalog.ASFToken)),
			)))
		}
		catalogs[scene.MissionSentinel1] = asf.NewCatalog(asf.NewClient(opts...), cfg.Catalog.MaxResults)
	}
	return catalogs, nil
}
