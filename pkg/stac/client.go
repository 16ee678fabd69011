// Package stac searches and resolves optical scenes in STAC API catalogs.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

const (
	LandsatURL        = "https://landsatlook.usgs.gov/stac-server"
	LandsatCollection = "landsat-c2l1"

	Sentinel2URL        = "https://earth-search.aws.element84.com/v1"
	Sentinel2Collection = "sentinel-2-l1c"

	defaultPageSize = 100
	defaultMaxPages = 20
)

// Client provides access to one mission's collection in a STAC API.
type Client struct {
	mission      scene.Mission
	baseURL      string
	collection   string
	doer         internalhttp.Doer
	pageSize     int
	maxPages     int
	cloudCeiling float64
}

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

// WithCollection overrides the default collection id.
func WithCollection(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.collection = name
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

// WithPageSize sets the search page limit.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMaxPages bounds how many result pages a search follows.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithCloudCeiling asks the server to drop candidates above the given cloud
// cover percentage. Zero disables the filter.
func WithCloudCeiling(max float64) Option {
	return func(c *Client) {
		c.cloudCeiling = max
	}
}

// NewClient creates a client for mission m with that mission's default
// catalog and collection.
func NewClient(m scene.Mission, opts ...Option) (*Client, error) {
	c := &Client{
		mission:  m,
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
	}
	switch m {
	case scene.MissionLandsat:
		c.baseURL, c.collection = LandsatURL, LandsatCollection
	case scene.MissionSentinel2:
		c.baseURL, c.collection = Sentinel2URL, Sentinel2Collection
	default:
		return nil, fmt.Errorf("stac: unsupported mission %s", m)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = internalhttp.NewSession()
	}
	return c, nil
}

// Mission returns the mission served by the client.
func (c *Client) Mission() scene.Mission { return c.mission }

// Decode interprets a STAC item embedded in a notification.
func (c *Client) Decode(raw json.RawMessage) (scene.Attributes, error) {
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return scene.Attributes{}, fmt.Errorf("%w: stac item: %v", scene.ErrMalformed, err)
	}
	return it.Attributes(c.mission)
}

// Resolve looks up a scene by id. Landsat items are fetched directly;
// Sentinel-2 items are found by product URI.
func (c *Client) Resolve(ctx context.Context, id string) (scene.Attributes, error) {
	if c.mission == scene.MissionSentinel2 {
		return c.resolveByProductURI(ctx, id)
	}

	endpoint, err := url.JoinPath(c.baseURL, "collections", c.collection, "items", id)
	if err != nil {
		return scene.Attributes{}, fmt.Errorf("stac: invalid base URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return scene.Attributes{}, fmt.Errorf("stac: create request: %w", err)
	}
	var it Item
	if err := c.fetch(ctx, req, &it); err != nil {
		var statusErr *internalhttp.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return scene.Attributes{}, fmt.Errorf("%w: %s in %s", scene.ErrNotFound, id, c.collection)
		}
		return scene.Attributes{}, fmt.Errorf("stac: resolve %s: %w", id, err)
	}
	return it.Attributes(c.mission)
}

func (c *Client) resolveByProductURI(ctx context.Context, id string) (scene.Attributes, error) {
	body := searchBody{
		Collections: []string{c.collection},
		Query:       map[string]map[string]any{"s2:product_uri": {"eq": id + ".SAFE"}},
		Limit:       2,
	}
	page, err := c.search(ctx, body)
	if err != nil {
		return scene.Attributes{}, fmt.Errorf("stac: resolve %s: %w", id, err)
	}
	switch n := len(page.Features); n {
	case 0:
		return scene.Attributes{}, fmt.Errorf("%w: %s in %s", scene.ErrNotFound, id, c.collection)
	case 1:
		return page.Features[0].Attributes(c.mission)
	default:
		return scene.Attributes{}, fmt.Errorf("stac: resolve %s: %d items share the product uri", id, n)
	}
}

// Search returns candidate scenes for req, following next links up to the
// configured page limit. Items that cannot be decoded are skipped.
func (c *Client) Search(ctx context.Context, req pairing.SearchRequest) ([]scene.Descriptor, error) {
	body := searchBody{
		Collections: []string{c.collection},
		Datetime:    formatInterval(req.Start, req.End),
		Query:       c.query(req),
		Limit:       c.pageSize,
	}
	if req.Collection != "" {
		body.Collections = []string{req.Collection}
	}
	if len(req.Region) > 0 {
		body.Intersects = geojson.NewGeometry(req.Region)
	}

	var out []scene.Descriptor
	seen := map[string]struct{}{}
	page, err := c.search(ctx, body)
	for pages := 1; ; pages++ {
		if err != nil {
			return nil, fmt.Errorf("stac: search: %w", err)
		}
		for _, it := range page.Features {
			attrs, err := it.Attributes(c.mission)
			if err != nil || attrs.ID == req.Exclude {
				continue
			}
			if _, dup := seen[attrs.ID]; dup {
				continue
			}
			seen[attrs.ID] = struct{}{}
			d, err := scene.New(attrs)
			if err != nil {
				continue
			}
			out = append(out, d)
		}
		next, ok := nextLink(page.Links)
		if !ok || pages >= c.maxPages || len(page.Features) == 0 {
			return out, nil
		}
		page, err = c.follow(ctx, next, body)
	}
}

func (c *Client) query(req pairing.SearchRequest) map[string]map[string]any {
	q := map[string]map[string]any{}
	switch c.mission {
	case scene.MissionLandsat:
		if len(req.Tile) == 6 {
			q["landsat:wrs_path"] = map[string]any{"eq": req.Tile[:3]}
			q["landsat:wrs_row"] = map[string]any{"eq": req.Tile[3:]}
		} else if req.RelativeOrbit > 0 && req.Orientation == scene.OffNadir {
			q["landsat:wrs_path"] = map[string]any{"eq": fmt.Sprintf("%03d", req.RelativeOrbit)}
		}
		if req.Orientation == scene.OffNadir {
			q["view:off_nadir"] = map[string]any{"gt": 0}
		} else {
			q["view:off_nadir"] = map[string]any{"eq": 0}
		}
		if c.cloudCeiling > 0 {
			q["landsat:cloud_cover_land"] = map[string]any{"lte": c.cloudCeiling}
		}
	case scene.MissionSentinel2:
		if req.Tile != "" {
			q["grid:code"] = map[string]any{"eq": "MGRS-" + req.Tile}
		}
		if c.cloudCeiling > 0 {
			q["eo:cloud_cover"] = map[string]any{"lte": c.cloudCeiling}
		}
		if req.RelativeOrbit > 0 && req.Orientation == scene.OffNadir {
			q["sat:relative_orbit"] = map[string]any{"eq": req.RelativeOrbit}
		}
	}
	return q
}

type searchBody struct {
	Collections []string                  `json:"collections"`
	Intersects  *geojson.Geometry         `json:"intersects,omitempty"`
	Datetime    string                    `json:"datetime,omitempty"`
	Query       map[string]map[string]any `json:"query,omitempty"`
	Limit       int                       `json:"limit,omitempty"`
}

func (c *Client) search(ctx context.Context, body searchBody) (ItemCollection, error) {
	endpoint, err := url.JoinPath(c.baseURL, "search")
	if err != nil {
		return ItemCollection{}, fmt.Errorf("invalid base URL: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ItemCollection{}, fmt.Errorf("encode search: %w", err)
	}
	return c.post(ctx, endpoint, payload)
}

// follow requests the next page. POST links without a body reuse the
// previous request body.
func (c *Client) follow(ctx context.Context, link Link, body searchBody) (ItemCollection, error) {
	if link.Method == http.MethodPost {
		payload := []byte(link.Body)
		if len(payload) == 0 {
			var err error
			if payload, err = json.Marshal(body); err != nil {
				return ItemCollection{}, fmt.Errorf("encode search: %w", err)
			}
		}
		return c.post(ctx, link.Href, payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.Href, nil)
	if err != nil {
		return ItemCollection{}, fmt.Errorf("create request: %w", err)
	}
	var page ItemCollection
	err = c.fetch(ctx, req, &page)
	return page, err
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (ItemCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ItemCollection{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var page ItemCollection
	err = c.fetch(ctx, req, &page)
	return page, err
}

func (c *Client) fetch(ctx context.Context, req *http.Request, v any) error {
	req.Header.Set("Accept", "application/geo+json, application/json")
	resp, err := internalhttp.Do(ctx, c.doer, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := internalhttp.CheckResponse(resp); err != nil {
		return err
	}
	return internalhttp.DecodeJSON(resp.Body, v)
}

func nextLink(links []Link) (Link, bool) {
	for _, l := range links {
		if l.Rel == "next" && l.Href != "" {
			return l, true
		}
	}
	return Link{}, false
}

func formatInterval(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return ""
	}
	format := func(t time.Time) string {
		if t.IsZero() {
			return ".."
		}
		return t.UTC().Format(time.RFC3339)
	}
	return format(start) + "/" + format(end)
}
