// Package census pulls ZCTA-level demographics from the Census Bureau
// ACS 5-year API for the market-recon pass.
package census

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescope/internal/fetcher"
)

const (
	defaultBaseURL = "https://api.census.gov/data"
	defaultYear    = 2023
)

// ACS 5-year variables pulled per ZCTA.
const (
	varPopulation   = "B01003_001E" // total population
	varMedianIncome = "B19013_001E" // median household income
	varHousingUnits = "B25001_001E" // housing units
)

// Demographics is the raw ACS pull for one ZCTA. Density and scoring
// derive from these downstream.
type Demographics struct {
	Zip          string
	Year         int
	Population   int
	MedianIncome float64
	HousingUnits int
}

// Client fetches ACS 5-year estimates.
type Client struct {
	fetcher fetcher.Fetcher
	apiKey  string
	baseURL string
	year    int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Census API base URL (tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithYear overrides the ACS vintage year.
func WithYear(year int) Option {
	return func(c *Client) { c.year = year }
}

// WithAPIKey sets the Census API key. The API works unkeyed at low
// volume; batch screening needs a key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// NewClient creates an ACS client over the given fetcher.
func NewClient(f fetcher.Fetcher, opts ...Option) *Client {
	c := &Client{
		fetcher: f,
		baseURL: defaultBaseURL,
		year:    defaultYear,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Demographics fetches population, median income, and housing units for
// a single ZCTA.
func (c *Client) Demographics(ctx context.Context, zip string) (*Demographics, error) {
	url := fmt.Sprintf(
		"%s/%d/acs/acs5?get=%s,%s,%s&for=zip%%20code%%20tabulation%%20area:%s",
		c.baseURL, c.year,
		varPopulation, varMedianIncome, varHousingUnits,
		zip,
	)
	if c.apiKey != "" {
		url += "&key=" + c.apiKey
	}

	body, err := c.fetcher.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "census: fetch zcta %s", zip)
	}
	defer body.Close() //nolint:errcheck

	rows, err := c.parseResponse(body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("census: no ACS data for zcta %s", zip)
	}
	return &rows[0], nil
}

// parseResponse decodes the Census API's JSON array-of-arrays format:
// [[header], [row1], [row2], ...].
func (c *Client) parseResponse(r io.Reader) ([]Demographics, error) {
	decoded, err := fetcher.DecodeJSONObject[[][]string](r)
	if err != nil {
		return nil, eris.Wrap(err, "census: unmarshal JSON")
	}

	raw := *decoded
	if len(raw) < 2 {
		return nil, nil // header only, no data rows
	}

	header := raw[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[col] = i
	}

	rows := make([]Demographics, 0, len(raw)-1)
	for _, record := range raw[1:] {
		rows = append(rows, Demographics{
			Zip:          col(record, colIdx, "zip code tabulation area"),
			Year:         c.year,
			Population:   parseIntOr(col(record, colIdx, varPopulation), 0),
			MedianIncome: parseFloatOr(col(record, colIdx, varMedianIncome), 0),
			HousingUnits: parseIntOr(col(record, colIdx, varHousingUnits), 0),
		})
	}
	return rows, nil
}

// col gets a value from a record by header column name.
func col(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// parseIntOr parses s, returning def on failure or ACS sentinel
// negatives (e.g. -666666666 for suppressed estimates).
func parseIntOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseFloatOr(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}
