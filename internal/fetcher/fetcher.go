// Package fetcher provides rate-limited HTTP download and streaming CSV
// parsing for the external sources the screening passes hit: the Census
// ACS API, the Census geocoder, and Overpass.
package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// DecodeJSONObject decodes a single JSON value from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &v, nil
}
