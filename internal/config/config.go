// Package config defines the monitor configuration and its loader.
//
// Values are layered: defaults from New, then an optional YAML file, then
// ITSLIVE_-prefixed environment variables. A Config is converted into the
// immutable values consumed by the monitor packages.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/example/go-itslive/monitor"
	"github.com/example/go-itslive/monitor/eligibility"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
	"github.com/example/go-itslive/pkg/asf"
	"github.com/example/go-itslive/pkg/gcs"
	"github.com/example/go-itslive/pkg/hyp3"
	"github.com/example/go-itslive/pkg/products"
	"github.com/example/go-itslive/pkg/stac"
)

// Day is a calendar day used for pair windows.
const Day = 24 * time.Hour

// Environments are the deployment environments a Config may target.
var Environments = []string{"prod", "test", "dev"}

// Jobs backends.
const (
	JobsDynamoDB = "dynamodb"
	JobsHyP3     = "hyp3"
)

// Transport kinds.
const (
	TransportSQS   = "sqs"
	TransportRedis = "redis"
)

// Config contains process configuration.
type Config struct {
	// Environment scopes job lookups, e.g. prod or test.
	Environment string `koanf:"environment"`

	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	AWS       AWSConfig       `koanf:"aws"`

	Landsat   MissionConfig `koanf:"landsat"`
	Sentinel2 MissionConfig `koanf:"sentinel2"`
	Sentinel1 MissionConfig `koanf:"sentinel1"`

	// SearchHalfWidth is the half-width in degrees of the search region
	// centred in the reference footprint.
	SearchHalfWidth float64 `koanf:"search_half_width"`

	Catalog   CatalogConfig   `koanf:"catalog"`
	Products  ProductsConfig  `koanf:"products"`
	Jobs      JobsConfig      `koanf:"jobs"`
	HyP3      HyP3Config      `koanf:"hyp3"`
	Timeouts  TimeoutsConfig  `koanf:"timeouts"`
	Transport TransportConfig `koanf:"transport"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector base URL, e.g.
	// http://localhost:4318. Empty disables export.
	Endpoint string `koanf:"endpoint"`
	// Headers is a comma separated key=value list sent with every export.
	Headers     string `koanf:"headers"`
	ServiceName string `koanf:"service_name"`
	// Logs also ships log records through the OTLP log exporter.
	Logs bool `koanf:"logs"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TelemetryConfig) Enabled() bool {
	return t.Endpoint != ""
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// AWSConfig overrides the default AWS credential chain.
type AWSConfig struct {
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	SessionToken    string `koanf:"session_token"`
}

// MissionConfig is the rule table and pair window of one mission.
type MissionConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Tiers     []string `koanf:"tiers"`
	Campaigns []string `koanf:"campaigns"`
	// Tiles and Regions are local paths or s3:// URLs of the land-ice mask.
	// An enabled mission needs at least one of them.
	Tiles   string `koanf:"tiles"`
	Regions string `koanf:"regions"`

	CloudCover      bool    `koanf:"cloud_cover"`
	MaxCloudCover   float64 `koanf:"max_cloud_cover"`
	DataCoverage    bool    `koanf:"data_coverage"`
	MinDataCoverage float64 `koanf:"min_data_coverage"`

	MinInterval time.Duration `koanf:"min_interval"`
	MaxInterval time.Duration `koanf:"max_interval"`
}

type CatalogConfig struct {
	LandsatURL   string `koanf:"landsat_url"`
	Sentinel2URL string `koanf:"sentinel2_url"`
	ASFURL       string `koanf:"asf_url"`
	ASFToken     string `koanf:"asf_token"`
	PageSize     int    `koanf:"page_size"`
	MaxPages     int    `koanf:"max_pages"`
	MaxResults   int    `koanf:"max_results"`
	// Sentinel2MirrorURL is the Google Cloud tile tree checked before a
	// Sentinel-2 scene is paired. Empty disables the check.
	Sentinel2MirrorURL string `koanf:"sentinel2_mirror_url"`
}

type ProductsConfig struct {
	Bucket   string `koanf:"bucket"`
	MaxPages int    `koanf:"max_pages"`
}

type JobsConfig struct {
	Backend string `koanf:"backend"`
	// Tables maps an environment to its jobs table name.
	Tables      map[string]string `koanf:"tables"`
	StatusIndex string            `koanf:"status_index"`
}

type HyP3Config struct {
	URL           string `koanf:"url"`
	Username      string `koanf:"username"`
	Password      string `koanf:"password"`
	JobType       string `koanf:"job_type"`
	PublishBucket string `koanf:"publish_bucket"`
}

type TimeoutsConfig struct {
	Resolve      time.Duration `koanf:"resolve"`
	Availability time.Duration `koanf:"availability"`
	Search       time.Duration `koanf:"search"`
	Dedup        time.Duration `koanf:"dedup"`
	Submit       time.Duration `koanf:"submit"`
	HTTP         time.Duration `koanf:"http"`
}

type TransportConfig struct {
	Kind        string      `koanf:"kind"`
	Concurrency int         `koanf:"concurrency"`
	MaxAttempts int         `koanf:"max_attempts"`
	SQS         SQSConfig   `koanf:"sqs"`
	Redis       RedisConfig `koanf:"redis"`
}

type SQSConfig struct {
	QueueURL   string        `koanf:"queue_url"`
	DLQURL     string        `koanf:"dlq_url"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	Stream    string `koanf:"stream"`
	Group     string `koanf:"group"`
	Consumer  string `koanf:"consumer"`
	DLQStream string `koanf:"dlq_stream"`
	// RetryDelay postpones redelivery of deferred notifications.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// New returns a Config populated with production defaults.
func New() *Config {
	return &Config{
		Environment: "prod",
		Log:         LogConfig{Level: "info", Format: "text"},
		Telemetry:   TelemetryConfig{ServiceName: "itslive-monitor"},
		Metrics:     MetricsConfig{Addr: ":9090"},
		Landsat: MissionConfig{
			Enabled:       true,
			Tiers:         []string{"T1", "T2"},
			CloudCover:    true,
			MaxCloudCover: 60,
			MinInterval:   time.Second,
			MaxInterval:   544 * Day,
		},
		Sentinel2: MissionConfig{
			Enabled:         true,
			Tiers:           []string{"MSIL1C"},
			Campaigns:       []string{"N0500"},
			CloudCover:      true,
			MaxCloudCover:   70,
			DataCoverage:    true,
			MinDataCoverage: 70,
			MinInterval:     5 * Day,
			MaxInterval:     544 * Day,
		},
		Sentinel1: MissionConfig{
			Enabled:     true,
			Tiers:       []string{"VV", "HH"},
			MinInterval: 5 * Day,
			MaxInterval: 544 * Day,
		},
		SearchHalfWidth: 0.05,
		Catalog: CatalogConfig{
			LandsatURL:         stac.LandsatURL,
			Sentinel2URL:       stac.Sentinel2URL,
			ASFURL:             asf.DefaultBaseURL,
			Sentinel2MirrorURL: gcs.Sentinel2TilesURL,
		},
		Products: ProductsConfig{Bucket: products.DefaultBucket},
		Jobs: JobsConfig{
			Backend: JobsDynamoDB,
			Tables: map[string]string{
				"prod": "hyp3-its-live-JobsTable",
				"test": "hyp3-its-live-test-JobsTable",
			},
			StatusIndex: "status_code",
		},
		HyP3: HyP3Config{
			URL:           hyp3.DefaultURL,
			JobType:       hyp3.DefaultJobType,
			PublishBucket: products.DefaultBucket,
		},
		Timeouts: TimeoutsConfig{
			Resolve:      monitor.DefaultTimeouts.Resolve,
			Availability: monitor.DefaultTimeouts.Availability,
			Search:       monitor.DefaultTimeouts.Search,
			Dedup:        monitor.DefaultTimeouts.Dedup,
			Submit:       monitor.DefaultTimeouts.Submit,
			HTTP:         2 * time.Minute,
		},
		Transport: TransportConfig{
			Kind:        TransportSQS,
			Concurrency: 4,
			MaxAttempts: 5,
			SQS:         SQSConfig{RetryDelay: 5 * time.Minute},
			Redis: RedisConfig{
				Addr:       "localhost:6379",
				Stream:     "itslive:scenes",
				Group:      "itslive-monitor",
				Consumer:   "monitor-1",
				RetryDelay: 5 * time.Minute,
			},
		},
	}
}

// Mission returns the mission configuration for m.
func (c *Config) Mission(m scene.Mission) (MissionConfig, bool) {
	switch m {
	case scene.MissionLandsat:
		return c.Landsat, true
	case scene.MissionSentinel2:
		return c.Sentinel2, true
	case scene.MissionSentinel1:
		return c.Sentinel1, true
	default:
		return MissionConfig{}, false
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !slices.Contains(Environments, c.Environment) {
		return fmt.Errorf("%w: unknown environment %q (want one of %s)", ErrInvalidConfig, c.Environment, strings.Join(Environments, ", "))
	}
	enabled := 0
	for _, m := range scene.Missions {
		mc, _ := c.Mission(m)
		if !mc.Enabled {
			continue
		}
		enabled++
		if err := mc.validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, m, err)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: no mission is enabled", ErrInvalidConfig)
	}
	if c.Landsat.Enabled {
		if err := requireURL("catalog.landsat_url", c.Catalog.LandsatURL); err != nil {
			return err
		}
	}
	if c.Sentinel2.Enabled {
		if err := requireURL("catalog.sentinel2_url", c.Catalog.Sentinel2URL); err != nil {
			return err
		}
		if c.Catalog.Sentinel2MirrorURL != "" {
			if err := requireURL("catalog.sentinel2_mirror_url", c.Catalog.Sentinel2MirrorURL); err != nil {
				return err
			}
		}
	}
	if c.Sentinel1.Enabled {
		if err := requireURL("catalog.asf_url", c.Catalog.ASFURL); err != nil {
			return err
		}
	}
	if err := requireURL("hyp3.url", c.HyP3.URL); err != nil {
		return err
	}
	if c.Products.Bucket == "" {
		return fmt.Errorf("%w: products.bucket must not be empty", ErrInvalidConfig)
	}
	switch c.Jobs.Backend {
	case JobsDynamoDB:
		if c.JobsTable() == "" {
			return fmt.Errorf("%w: no jobs table for environment %q", ErrInvalidConfig, c.Environment)
		}
	case JobsHyP3:
	default:
		return fmt.Errorf("%w: unknown jobs backend %q", ErrInvalidConfig, c.Jobs.Backend)
	}
	if c.SearchHalfWidth < 0 {
		return fmt.Errorf("%w: search_half_width must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ValidateTransport checks the settings used by the serve command.
func (c *Config) ValidateTransport() error {
	t := c.Transport
	if t.Concurrency <= 0 {
		return fmt.Errorf("%w: transport.concurrency must be positive", ErrInvalidConfig)
	}
	if t.MaxAttempts < 0 {
		return fmt.Errorf("%w: transport.max_attempts must not be negative", ErrInvalidConfig)
	}
	switch t.Kind {
	case TransportSQS:
		if t.SQS.QueueURL == "" {
			return fmt.Errorf("%w: transport.sqs.queue_url must not be empty", ErrInvalidConfig)
		}
	case TransportRedis:
		if t.Redis.Addr == "" || t.Redis.Stream == "" || t.Redis.Group == "" || t.Redis.Consumer == "" {
			return fmt.Errorf("%w: transport.redis needs addr, stream, group and consumer", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, t.Kind)
	}
	return nil
}

// JobsTable returns the jobs table of the configured environment.
func (c *Config) JobsTable() string {
	return c.Jobs.Tables[c.Environment]
}

// Monitor builds the gate configuration.
func (c *Config) Monitor() monitor.Config {
	return monitor.Config{
		Environment: c.Environment,
		Timeouts: monitor.Timeouts{
			Resolve:      c.Timeouts.Resolve,
			Availability: c.Timeouts.Availability,
			Search:       c.Timeouts.Search,
			Dedup:        c.Timeouts.Dedup,
			Submit:       c.Timeouts.Submit,
		},
		Parameters: monitor.Parameters{
			JobType:       c.HyP3.JobType,
			PublishBucket: c.HyP3.PublishBucket,
		},
	}
}

// Windows returns the pair windows of the enabled missions.
func (c *Config) Windows() map[scene.Mission]pairing.Window {
	out := make(map[scene.Mission]pairing.Window)
	for _, m := range scene.Missions {
		if mc, _ := c.Mission(m); mc.Enabled {
			out[m] = mc.Window()
		}
	}
	return out
}

// Window returns the pair separation window.
func (mc MissionConfig) Window() pairing.Window {
	return pairing.Window{Min: mc.MinInterval, Max: mc.MaxInterval}
}

// Rules builds the eligibility rule table around a loaded mask.
func (mc MissionConfig) Rules(mask *eligibility.Mask) eligibility.Rules {
	return eligibility.Rules{
		Enabled:         mc.Enabled,
		Tiers:           mc.Tiers,
		Mask:            mask,
		Campaigns:       mc.Campaigns,
		CloudCover:      mc.CloudCover,
		MaxCloudCover:   mc.MaxCloudCover,
		DataCoverage:    mc.DataCoverage,
		MinDataCoverage: mc.MinDataCoverage,
	}
}

func (mc MissionConfig) validate() error {
	if mc.Tiles == "" && mc.Regions == "" {
		return errors.New("a land-ice tiles or regions source is required")
	}
	if mc.MinInterval < 0 || mc.MaxInterval <= 0 || mc.MinInterval > mc.MaxInterval {
		return fmt.Errorf("invalid pair window [%s, %s]", mc.MinInterval, mc.MaxInterval)
	}
	if mc.CloudCover && (mc.MaxCloudCover < 0 || mc.MaxCloudCover > 100) {
		return fmt.Errorf("max_cloud_cover %v outside [0, 100]", mc.MaxCloudCover)
	}
	if mc.DataCoverage && (mc.MinDataCoverage < 0 || mc.MinDataCoverage > 100) {
		return fmt.Errorf("min_data_coverage %v outside [0, 100]", mc.MinDataCoverage)
	}
	return nil
}

func requireURL(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, name)
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not an absolute URL", ErrInvalidConfig, name, value)
	}
	return nil
}
