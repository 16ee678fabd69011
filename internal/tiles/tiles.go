// Package tiles loads the land-ice tile lists and region outlines that back
// the eligibility masks. Sources are local paths or s3:// URLs.
package tiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// s3Downloader is satisfied by *manager.Downloader.
type s3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// Loader reads tile sources.
type Loader struct {
	downloader s3Downloader
}

// NewLoader returns a Loader. A nil downloader restricts it to local files.
func NewLoader(downloader s3Downloader) *Loader {
	return &Loader{downloader: downloader}
}

// NewS3Loader builds a Loader around an S3 client.
func NewS3Loader(client manager.DownloadAPIClient) *Loader {
	return &Loader{downloader: manager.NewDownloader(client)}
}

// Tiles reads a JSON array of tile identifiers. Identifiers are trimmed and
// upper-cased; blanks are dropped.
func (l *Loader) Tiles(ctx context.Context, location string) ([]string, error) {
	data, err := l.read(ctx, location)
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tiles: decode %s: %w", location, err)
	}
	out := make([]string, 0, len(raw))
	for _, tile := range raw {
		if tile = strings.ToUpper(strings.TrimSpace(tile)); tile != "" {
			out = append(out, tile)
		}
	}
	return out, nil
}

// Regions reads the Polygon and MultiPolygon features of a GeoJSON
// FeatureCollection. Other geometry types are ignored.
func (l *Loader) Regions(ctx context.Context, location string) ([]orb.Polygon, error) {
	data, err := l.read(ctx, location)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("tiles: decode %s: %w", location, err)
	}
	var out []orb.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			out = append(out, g)
		case orb.MultiPolygon:
			out = append(out, g...)
		}
	}
	return out, nil
}

func (l *Loader) read(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, errors.New("tiles: empty location")
	}
	if !strings.HasPrefix(strings.ToLower(location), "s3://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("tiles: read %s: %w", location, err)
		}
		return data, nil
	}

	if l.downloader == nil {
		return nil, fmt.Errorf("tiles: %s requires an s3 downloader", location)
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("tiles: parse %s: %w", location, err)
	}
	bucket, key := parsed.Host, strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("tiles: %s must name a bucket and key", location)
	}
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := l.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, fmt.Errorf("tiles: download %s: %w", location, err)
	}
	return buf.Bytes(), nil
}
