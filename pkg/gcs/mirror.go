// Package gcs checks that Sentinel-2 scenes have reached the Google Cloud
// public data mirror the processing service downloads them from.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor/scene"
)

// Sentinel2TilesURL is the root of the public Sentinel-2 tile tree.
const Sentinel2TilesURL = "https://storage.googleapis.com/gcp-public-data-sentinel-2/tiles"

// ErrNotMirrored is wrapped when a scene's manifest is absent from the mirror.
var ErrNotMirrored = errors.New("gcs: scene not mirrored")

// Mirror checks Sentinel-2 scene availability with a HEAD request on the
// scene's SAFE manifest.
type Mirror struct {
	baseURL string
	doer    internalhttp.Doer
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithBaseURL overrides the tile tree root.
func WithBaseURL(u string) Option {
	return func(m *Mirror) {
		if u != "" {
			m.baseURL = u
		}
	}
}

// WithDoer sets the HTTP transport.
func WithDoer(d internalhttp.Doer) Option {
	return func(m *Mirror) {
		if d != nil {
			m.doer = d
		}
	}
}

// NewMirror returns a Mirror for the public Sentinel-2 bucket.
func NewMirror(opts ...Option) *Mirror {
	m := &Mirror{baseURL: Sentinel2TilesURL}
	for _, opt := range opts {
		opt(m)
	}
	if m.doer == nil {
		m.doer = internalhttp.NewSession()
	}
	return m
}

// Check returns nil when the scene's manifest exists. Scenes of other
// missions are always available. A missing manifest wraps ErrNotMirrored.
func (m *Mirror) Check(ctx context.Context, d scene.Descriptor) error {
	if d.Mission() != scene.MissionSentinel2 {
		return nil
	}
	endpoint, err := ManifestURL(m.baseURL, d.ID(), d.Tile())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return fmt.Errorf("gcs: create request: %w", err)
	}
	resp, err := internalhttp.Do(ctx, m.doer, req)
	if err != nil {
		return fmt.Errorf("gcs: head %s: %w", d.ID(), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrNotMirrored, d.ID())
	}
	if err := internalhttp.CheckResponse(resp); err != nil {
		return fmt.Errorf("gcs: head %s: %w", d.ID(), err)
	}
	return nil
}

// ManifestURL builds the manifest location of a Sentinel-2 scene. The
// mirror nests tiles as UTM zone, latitude band and grid square, so tile
// 13CES lives under 13/C/ES.
func ManifestURL(base, sceneID, tile string) (string, error) {
	if len(tile) != 5 {
		return "", fmt.Errorf("%w: sentinel-2 tile %q", scene.ErrMalformed, tile)
	}
	endpoint, err := url.JoinPath(base, tile[0:2], tile[2:3], tile[3:5], sceneID+".SAFE", "manifest.safe")
	if err != nil {
		return "", fmt.Errorf("gcs: invalid base URL: %w", err)
	}
	return endpoint, nil
}
