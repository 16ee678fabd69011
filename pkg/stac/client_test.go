package stac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

const landsatItem = `{
	"id": "LC09_L1TP_138041_20240128_20240128_02_T1",
	"collection": "landsat-c2l1",
	"geometry": {"type": "Polygon", "coordinates": [[[88.1, 27.9], [90.0, 27.5], [90.4, 29.2], [88.5, 29.6], [88.1, 27.9]]]},
	"properties": {
		"datetime": "2024-01-28T04:39:17.123456789Z",
		"instruments": ["OLI", "TIRS"],
		"view:off_nadir": 0,
		"landsat:wrs_path": "138",
		"landsat:wrs_row": "041",
		"landsat:collection_category": "T1",
		"landsat:cloud_cover_land": 12.5
	}
}`

const sentinel2Item = `{
	"id": "S2B_13CES_20240128_0_L1C",
	"collection": "sentinel-2-l1c",
	"geometry": {"type": "MultiPolygon", "coordinates": [
		[[[-105.0, -72.0], [-104.9, -72.0], [-104.9, -71.9], [-105.0, -72.0]]],
		[[[-104.0, -73.0], [-102.0, -73.0], [-102.0, -72.0], [-104.0, -72.0], [-104.0, -73.0]]]
	]},
	"properties": {
		"datetime": "2024-01-28T17:53:39.024Z",
		"s2:product_uri": "S2B_MSIL1C_20240128T175339_N0510_R013_T13CES_20240128T190512.SAFE",
		"grid:code": "MGRS-13CES",
		"eo:cloud_cover": 31.2,
		"s2:nodata_pixel_percentage": 12,
		"sat:relative_orbit": 13
	}
}`

func TestDecodeLandsatItem(t *testing.T) {
	c, err := NewClient(scene.MissionLandsat)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	attrs, err := c.Decode(json.RawMessage(landsatItem))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if attrs.ID != "LC09_L1TP_138041_20240128_20240128_02_T1" {
		t.Fatalf("unexpected id %q", attrs.ID)
	}
	if attrs.Tile != "138041" || attrs.Tier != "T1" || attrs.Mission != scene.MissionLandsat {
		t.Fatalf("unexpected identity: tile=%q tier=%q mission=%s", attrs.Tile, attrs.Tier, attrs.Mission)
	}
	if attrs.Orientation != scene.Nadir {
		t.Fatalf("expected nadir, got %s", attrs.Orientation)
	}
	if attrs.RelativeOrbit != 138 {
		t.Fatalf("expected relative orbit from WRS path, got %d", attrs.RelativeOrbit)
	}
	if got := attrs.Metrics[scene.MetricCloudCover]; got != 12.5 {
		t.Fatalf("expected cloud cover 12.5, got %v", got)
	}
	want := time.Date(2024, 1, 28, 4, 39, 17, 123456000, time.UTC)
	if !attrs.Acquired.Equal(want) {
		t.Fatalf("unexpected acquisition %s", attrs.Acquired)
	}
	if len(attrs.Footprint) != 1 || len(attrs.Footprint[0]) != 5 {
		t.Fatalf("unexpected footprint %v", attrs.Footprint)
	}
}

func TestDecodeSentinel2Item(t *testing.T) {
	c, _ := NewClient(scene.MissionSentinel2)
	attrs, err := c.Decode(json.RawMessage(sentinel2Item))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if attrs.ID != "S2B_MSIL1C_20240128T175339_N0510_R013_T13CES_20240128T190512" {
		t.Fatalf("unexpected id %q", attrs.ID)
	}
	if attrs.Tile != "13CES" || attrs.Tier != "MSIL1C" || attrs.Campaign != "N0510" || attrs.RelativeOrbit != 13 {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
	if got := attrs.Metrics[scene.MetricDataCoverage]; got != 88 {
		t.Fatalf("expected data coverage 88, got %v", got)
	}
	// The larger polygon of the MultiPolygon wins.
	if got := attrs.Footprint.Bound().Min; got != (orb.Point{-104, -73}) {
		t.Fatalf("unexpected footprint bound %v", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c, _ := NewClient(scene.MissionLandsat)
	for _, raw := range []string{`not json`, `{"id": ""}`, `{"id": "x", "properties": {"datetime": "yesterday"}}`} {
		if _, err := c.Decode(json.RawMessage(raw)); !errors.Is(err, scene.ErrMalformed) {
			t.Errorf("Decode(%s): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestNewClientRejectsRadarMission(t *testing.T) {
	if _, err := NewClient(scene.MissionSentinel1); err == nil {
		t.Fatal("expected error for Sentinel-1")
	}
}

func TestSearchFollowsNextLinks(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2022, 8, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 24, 0, 0, 0, 0, time.UTC)

	var calls int
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		if body["token"] == nil {
			if got := body["datetime"]; got != "2022-08-02T00:00:00Z/2025-07-24T00:00:00Z" {
				t.Errorf("unexpected datetime %v", got)
			}
			query := body["query"].(map[string]any)
			if got := query["landsat:wrs_path"].(map[string]any)["eq"]; got != "138" {
				t.Errorf("unexpected wrs path filter %v", got)
			}
			if got := query["view:off_nadir"].(map[string]any)["eq"]; got != float64(0) {
				t.Errorf("unexpected off nadir filter %v", got)
			}
			if got := body["intersects"].(map[string]any)["type"]; got != "Polygon" {
				t.Errorf("unexpected intersects %v", got)
			}
			fmt.Fprintf(w, `{"features": [%s, %s], "links": [{"rel": "next", "method": "POST", "href": %q, "body": {"token": "p2"}}]}`,
				item("LC09_L1TP_138041_20240128_20240128_02_T1", "2024-01-28T04:39:17Z"),
				item("LC08_L1TP_138041_20240120_20240120_02_T1", "2024-01-20T04:39:17Z"),
				server.URL+"/search")
			return
		}
		fmt.Fprintf(w, `{"features": [%s, %s], "links": []}`,
			item("LC08_L1TP_138041_20240120_20240120_02_T1", "2024-01-20T04:39:17Z"),
			item("LC09_L1TP_138041_20240112_20240112_02_T2", "2024-01-12T04:39:17Z"))
	}))
	defer server.Close()

	c, err := NewClient(scene.MissionLandsat,
		WithBaseURL(server.URL),
		WithDoer(internalhttp.NewSession(internalhttp.WithAuthenticator(internalhttp.BearerToken("token")))),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	req := pairing.SearchRequest{
		Mission: scene.MissionLandsat,
		Tile:    "138041",
		Start:   start,
		End:     end,
		Region:  orb.Bound{Min: orb.Point{89, 28}, Max: orb.Point{89.1, 28.1}}.ToPolygon(),
		Exclude: "LC09_L1TP_138041_20240128_20240128_02_T1",
	}
	got, err := c.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 page requests, got %d", calls)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct candidates, got %d", len(got))
	}
	if got[0].ID() != "LC08_L1TP_138041_20240120_20240120_02_T1" || got[1].Tier() != "T2" {
		t.Fatalf("unexpected candidates %s, %s", got[0].ID(), got[1].ID())
	}
}

func TestSearchStopsAtMaxPages(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"features": [%s], "links": [{"rel": "next", "href": "http://%s/search?page=%d"}]}`,
			item(fmt.Sprintf("LC08_L1TP_138041_202401%02d_20240120_02_T1", calls), "2024-01-20T04:39:17Z"), r.Host, calls+1)
	}))
	defer server.Close()

	c, _ := NewClient(scene.MissionLandsat, WithBaseURL(server.URL), WithMaxPages(3))
	got, err := c.Search(context.Background(), pairing.SearchRequest{Tile: "138041"})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if calls != 3 || len(got) != 3 {
		t.Fatalf("expected 3 pages and 3 candidates, got %d pages and %d candidates", calls, len(got))
	}
}

func TestSearchSurfacesStatusErrors(t *testing.T) {
	for _, tc := range []struct {
		status    int
		rejection bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusBadGateway, false},
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		c, _ := NewClient(scene.MissionSentinel2, WithBaseURL(server.URL))
		_, err := c.Search(context.Background(), pairing.SearchRequest{Tile: "13CES"})
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := internalhttp.IsRejection(err); got != tc.rejection {
			t.Fatalf("status %d: IsRejection=%v, want %v", tc.status, got, tc.rejection)
		}
	}
}

func TestResolveLandsat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/landsat-c2l1/items/LC09_L1TP_138041_20240128_20240128_02_T1":
			io.WriteString(w, landsatItem)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, _ := NewClient(scene.MissionLandsat, WithBaseURL(server.URL))
	attrs, err := c.Resolve(context.Background(), "LC09_L1TP_138041_20240128_20240128_02_T1")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if attrs.Tile != "138041" {
		t.Fatalf("unexpected tile %q", attrs.Tile)
	}

	_, err = c.Resolve(context.Background(), "LC09_L1TP_138041_20240201_20240201_02_T1")
	if !errors.Is(err, scene.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSentinel2ByProductURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query map[string]map[string]string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body.Query["s2:product_uri"]["eq"] == "S2B_MSIL1C_20240128T175339_N0510_R013_T13CES_20240128T190512.SAFE" {
			fmt.Fprintf(w, `{"features": [%s]}`, sentinel2Item)
			return
		}
		io.WriteString(w, `{"features": []}`)
	}))
	defer server.Close()

	c, _ := NewClient(scene.MissionSentinel2, WithBaseURL(server.URL))
	attrs, err := c.Resolve(context.Background(), "S2B_MSIL1C_20240128T175339_N0510_R013_T13CES_20240128T190512")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if attrs.Tile != "13CES" {
		t.Fatalf("unexpected tile %q", attrs.Tile)
	}
	if _, err := c.Resolve(context.Background(), "S2A_MSIL1C_20240101T000000_N0510_R013_T13CES_20240101T000000"); !errors.Is(err, scene.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchPairsOffNadirLandsatOnSamePath(t *testing.T) {
	offNadir := func(id, datetime, row string) string {
		return fmt.Sprintf(`{"id": %q, "collection": "landsat-c2l1", "geometry": null, "properties": {
			"datetime": %q, "instruments": ["OLI"], "view:off_nadir": 14.2,
			"landsat:wrs_path": "138", "landsat:wrs_row": %q,
			"landsat:collection_category": "T1", "landsat:cloud_cover_land": 10}}`, id, datetime, row)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query map[string]map[string]any `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if _, ok := body.Query["sat:relative_orbit"]; ok {
			t.Errorf("landsat search must not filter on sat:relative_orbit: %v", body.Query)
		}
		if got := body.Query["view:off_nadir"]["gt"]; got != float64(0) {
			t.Errorf("unexpected off nadir filter %v", body.Query["view:off_nadir"])
		}
		fmt.Fprintf(w, `{"features": [%s]}`,
			offNadir("LC09_L1TP_138041_20240112_20240112_02_T1", "2024-01-12T04:39:17Z", "041"))
	}))
	defer server.Close()

	c, _ := NewClient(scene.MissionLandsat, WithBaseURL(server.URL))
	refAttrs, err := c.Decode(json.RawMessage(offNadir("LC08_L1TP_138041_20240128_20240128_02_T1", "2024-01-28T04:39:17Z", "041")))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if refAttrs.Orientation != scene.OffNadir || refAttrs.RelativeOrbit != 138 {
		t.Fatalf("unexpected reference orientation=%s orbit=%d", refAttrs.Orientation, refAttrs.RelativeOrbit)
	}
	ref := scene.MustNew(refAttrs)

	sel := pairing.NewSelector(map[scene.Mission]pairing.Window{
		scene.MissionLandsat: {Min: time.Second, Max: 544 * 24 * time.Hour},
	})
	candidates, err := c.Search(context.Background(), sel.SearchRequest(ref))
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].RelativeOrbit() != 138 {
		t.Fatalf("unexpected candidates %v", candidates)
	}
	pairs := sel.Select(ref, candidates)
	if len(pairs) != 1 {
		t.Fatalf("expected one off-nadir pair, got %d", len(pairs))
	}
	if want := "LC08_L1TP_138041_20240128_20240128_02_T1_X_LC09_L1TP_138041_20240112_20240112_02_T1"; pairs[0].Key != want {
		t.Fatalf("unexpected pair key %q", pairs[0].Key)
	}
}

func item(id, datetime string) string {
	return fmt.Sprintf(`{"id": %q, "collection": "landsat-c2l1", "geometry": null, "properties": {
		"datetime": %q, "instruments": ["OLI"], "view:off_nadir": 0,
		"landsat:wrs_path": "138", "landsat:wrs_row": "041",
		"landsat:collection_category": %q, "landsat:cloud_cover_land": 10}}`, id, datetime, id[len(id)-2:])
}
