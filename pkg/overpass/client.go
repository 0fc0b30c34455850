// Package overpass provides a client for the OSM Overpass API, used as
// the free tier for competitor enumeration and rate evidence.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Overpass operations the pipeline uses.
type Client interface {
	// StorageFacilities returns self-storage facilities within radiusM
	// meters of the given point.
	StorageFacilities(ctx context.Context, lat, lng float64, radiusM int) ([]Facility, error)
}

// Facility is one self-storage location from OSM.
type Facility struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Website   string  `json:"website,omitempty"`
	Phone     string  `json:"phone,omitempty"`
}

// overpassResponse is the Overpass interpreter's JSON output.
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Option configures the Overpass client.
type Option func(*httpClient)

// WithBaseURL sets a custom interpreter URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new Overpass client against the public
// interpreter.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://overpass-api.de/api/interpreter",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusGatewayTimeout ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures. Overpass rate-limits aggressively, so the backoff
// starts at two seconds.
func (c *httpClient) retryDo(ctx context.Context, build func() (*http.Request, error)) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, 0, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "overpass: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("overpass: status %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) StorageFacilities(ctx context.Context, lat, lng float64, radiusM int) ([]Facility, error) {
	query := storageQuery(lat, lng, radiusM)

	body, statusCode, err := c.retryDo(ctx, func() (*http.Request, error) {
		form := url.Values{"data": {query}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, eris.Wrap(err, "overpass: create request")
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "overpass: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("overpass: unexpected status %d", statusCode)
	}

	var result overpassResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "overpass: unmarshal response")
	}

	return toFacilities(result.Elements), nil
}

// storageQuery builds the Overpass QL for self-storage facilities. OSM
// tags them shop=storage_rental; older imports use building=storage.
func storageQuery(lat, lng float64, radiusM int) string {
	return fmt.Sprintf(`[out:json][timeout:45];
(
  nwr["shop"="storage_rental"](around:%d,%f,%f);
  nwr["building"="storage"]["name"](around:%d,%f,%f);
);
out center tags;`, radiusM, lat, lng, radiusM, lat, lng)
}

// toFacilities flattens Overpass elements. Ways and relations carry
// their coordinates in "center" when the query asks for it.
func toFacilities(elements []overpassElement) []Facility {
	facilities := make([]Facility, 0, len(elements))
	seen := make(map[string]bool, len(elements))

	for _, el := range elements {
		lat, lon := el.Lat, el.Lon
		if el.Center != nil {
			lat, lon = el.Center.Lat, el.Center.Lon
		}
		if lat == 0 && lon == 0 {
			continue
		}

		name := el.Tags["name"]
		// Dedup branded facilities mapped as both a node and a way.
		key := fmt.Sprintf("%s|%.4f|%.4f", strings.ToLower(name), lat, lon)
		if seen[key] {
			continue
		}
		seen[key] = true

		facilities = append(facilities, Facility{
			ID:        el.ID,
			Name:      name,
			Latitude:  lat,
			Longitude: lon,
			Website:   firstTag(el.Tags, "website", "contact:website"),
			Phone:     firstTag(el.Tags, "phone", "contact:phone"),
		})
	}
	return facilities
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}
