package plots

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/twpayne/go-geom/encoding/geojson"
)

// Source yields raw plot features. Validation happens in FromFeature so a
// bad feature skips one plot rather than failing the whole fetch.
type Source interface {
	Features(ctx context.Context) ([]*geojson.Feature, error)
}

// FileSource reads a GeoJSON FeatureCollection from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Features(ctx context.Context) ([]*geojson.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read plots: %w", err)
	}
	return ParseFeatureCollection(data)
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection.
func ParseFeatureCollection(data []byte) ([]*geojson.Feature, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	return fc.Features, nil
}

// StaticSource serves a fixed feature list.
type StaticSource []*geojson.Feature

func (s StaticSource) Features(ctx context.Context) ([]*geojson.Feature, error) {
	return []*geojson.Feature(s), ctx.Err()
}
