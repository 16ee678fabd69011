// Package asf searches the ASF catalog for Sentinel-1 burst products.
package asf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

// DefaultBaseURL is the ASF search API host.
const DefaultBaseURL = "https://api.daac.asf.alaska.edu"

const defaultMaxResults = 2000

// Client provides access to ASF Search endpoints.
type Client struct {
	baseURL string
	doer    internalhttp.Doer
}

// Platform represents a supported mission/platform identifier.
type Platform string

const (
	PlatformSentinel1A Platform = "Sentinel-1A"
	PlatformSentinel1B Platform = "Sentinel-1B"
	PlatformSentinel1C Platform = "Sentinel-1C"
	PlatformSentinel1  Platform = "Sentinel-1"
)

// Polarization enumerates common SAR polarization strings.
type Polarization string

const (
	PolarizationHH Polarization = "HH"
	PolarizationHV Polarization = "HV"
	PolarizationVV Polarization = "VV"
	PolarizationVH Polarization = "VH"
)

// ProcessingLevel enumerates the processing level strings.
type ProcessingLevel string

const (
	ProcessingLevelSLC   ProcessingLevel = "SLC"
	ProcessingLevelBurst ProcessingLevel = "BURST"
)

// Option mutates the client when constructing it.
type Option func(*Client)

// WithBaseURL overrides the default API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithDoer sets the HTTP transport, typically an internal/http Session.
func WithDoer(d internalhttp.Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithAuthToken configures the bearer token used for authenticated requests.
func WithAuthToken(token string) Option {
	return WithDoer(internalhttp.NewSession(internalhttp.WithAuthenticator(internalhttp.BearerToken(token))))
}

// NewClient creates a Client with sensible defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = internalhttp.NewSession()
	}
	return c
}

// SearchOptions captures supported query parameters for ASF search.
type SearchOptions struct {
	Platforms       []Platform
	Polarizations   []Polarization
	ProcessingLevel []ProcessingLevel
	FullBurstIDs    []string
	GranuleIDs      []string
	Start           time.Time
	End             time.Time
	IntersectsWith  string
	MaxResults      int
}

// Search queries the ASF search API and returns a list of products.
func (c *Client) Search(ctx context.Context, opts SearchOptions) ([]Product, error) {
	endpoint, err := url.JoinPath(c.baseURL, "services", "search", "param")
	if err != nil {
		return nil, fmt.Errorf("asf: invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("asf: create request: %w", err)
	}
	req.URL.RawQuery = encodeSearchOptions(opts).Encode()

	resp, err := internalhttp.Do(ctx, c.doer, req)
	if err != nil {
		return nil, fmt.Errorf("asf: send request: %w", err)
	}
	defer resp.Body.Close()

	if err := internalhttp.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("asf: %w", err)
	}

	var payload FeatureCollection
	if err := internalhttp.DecodeJSON(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("asf: %w", err)
	}
	return payload.Features, nil
}

// encodeSearchOptions flattens search options into URL query parameters.
func encodeSearchOptions(opts SearchOptions) url.Values {
	q := url.Values{}
	addQueryValues(q, "platform", opts.Platforms)
	addQueryValues(q, "polarization", opts.Polarizations)
	addQueryValues(q, "processingLevel", opts.ProcessingLevel)
	addQueryValues(q, "fullBurstID", opts.FullBurstIDs)
	addQueryValues(q, "granule_list", opts.GranuleIDs)
	setQueryIfNonEmpty(q, "intersectsWith", opts.IntersectsWith)
	setQueryTime(q, "start", opts.Start)
	setQueryTime(q, "end", opts.End)
	setPositiveInt(q, "maxResults", opts.MaxResults)
	q.Set("output", "geojson")
	return q
}

// addQueryValues appends non-empty values from a slice of string-based types.
func addQueryValues[T ~string](q url.Values, key string, values []T) {
	for _, value := range values {
		if s := string(value); s != "" {
			q.Add(key, s)
		}
	}
}

// setQueryIfNonEmpty sets a query parameter if the string-based value is not empty.
func setQueryIfNonEmpty[T ~string](q url.Values, key string, value T) {
	if s := string(value); s != "" {
		q.Set(key, s)
	}
}

func setQueryTime(q url.Values, key string, value time.Time) {
	if value.IsZero() {
		return
	}
	q.Set(key, value.UTC().Format(time.RFC3339))
}

func setPositiveInt(q url.Values, key string, value int) {
	if value > 0 {
		q.Set(key, strconv.Itoa(value))
	}
}

// Catalog adapts a Client to the burst lookups used by the pairing engine.
type Catalog struct {
	client     *Client
	maxResults int
}

// NewCatalog wraps client. maxResults bounds each candidate search; zero
// selects the default.
func NewCatalog(client *Client, maxResults int) *Catalog {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Catalog{client: client, maxResults: maxResults}
}

// Resolve looks up a burst by scene name.
func (c *Catalog) Resolve(ctx context.Context, id string) (scene.Attributes, error) {
	products, err := c.client.Search(ctx, SearchOptions{GranuleIDs: []string{id}})
	if err != nil {
		return scene.Attributes{}, err
	}
	for _, p := range products {
		if p.Properties.SceneName == id {
			return p.Attributes()
		}
	}
	return scene.Attributes{}, fmt.Errorf("%w: %s in ASF search", scene.ErrNotFound, id)
}

// Decode interprets an ASF GeoJSON feature embedded in a notification.
func (c *Catalog) Decode(raw json.RawMessage) (scene.Attributes, error) {
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return scene.Attributes{}, fmt.Errorf("%w: asf product: %v", scene.ErrMalformed, err)
	}
	return p.Attributes()
}

// Search returns bursts sharing the reference's burst id and polarization.
// Without a burst id the reference region is used instead.
func (c *Catalog) Search(ctx context.Context, req pairing.SearchRequest) ([]scene.Descriptor, error) {
	opts := SearchOptions{
		ProcessingLevel: []ProcessingLevel{ProcessingLevelBurst},
		Start:           req.Start,
		End:             req.End,
		MaxResults:      c.maxResults,
	}
	if req.Polarization != "" {
		opts.Polarizations = []Polarization{Polarization(req.Polarization)}
	}
	switch {
	case req.Tile != "":
		opts.FullBurstIDs = []string{req.Tile}
	case len(req.Region) > 0:
		opts.IntersectsWith = wkt.MarshalString(req.Region)
	}

	products, err := c.client.Search(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]scene.Descriptor, 0, len(products))
	for _, p := range products {
		attrs, err := p.Attributes()
		if err != nil || attrs.ID == req.Exclude {
			continue
		}
		d, err := scene.New(attrs)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
