package geocode

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBatchURL   = "https://geocoding.geo.census.gov/geocoder/locations/addressbatch"
	censusBenchmark  = "Public_AR_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// geocodeCensus geocodes a single address using the Census one-line API.
func (g *geocoder) geocodeCensus(ctx context.Context, addr AddressInput) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census rate limit")
	}

	params := url.Values{
		"address":   {formatOneLine(addr)},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, censusOneLineURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: census returned status %d", resp.StatusCode)
	}

	var censusResp censusOneLineResponse
	if err := json.NewDecoder(resp.Body).Decode(&censusResp); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return &Result{Matched: false, Source: "census"}, nil
	}

	// One-line matches are address-level.
	match := censusResp.Result.AddressMatches[0]
	return &Result{
		Latitude:   match.Coordinates.Y,
		Longitude:  match.Coordinates.X,
		Source:     "census",
		Quality:    "rooftop",
		Confidence: qualityConfidence("rooftop"),
		Matched:    true,
	}, nil
}

// batchGeocodeCensus geocodes up to 10,000 addresses via the Census batch API.
func (g *geocoder) batchGeocodeCensus(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch rate limit")
	}

	// The batch endpoint takes a CSV upload: id,street,city,state,zip.
	var addrCSV strings.Builder
	idToIdx := make(map[string]int, len(addrs))
	for i, addr := range addrs {
		id := addr.ID
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		idToIdx[id] = i
		fmt.Fprintf(&addrCSV, "%s,%s,%s,%s,%s\n", id, addr.Street, addr.City, addr.State, addr.ZipCode)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("benchmark", censusBenchmark); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch write benchmark")
	}
	part, err := writer.CreateFormFile("addressFile", "addresses.csv")
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch create form file")
	}
	if _, err := io.WriteString(part, addrCSV.String()); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch write csv")
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch close writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, censusBatchURL, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: census batch returned status %d", resp.StatusCode)
	}

	return parseCensusBatchResponse(resp.Body, idToIdx, len(addrs))
}

// parseCensusBatchResponse parses the batch endpoint's CSV response.
// Matched rows carry: id, input address, "Match", exactness, matched
// address, "lon,lat", tiger line id, side. Unmatched rows stop after
// the match column.
func parseCensusBatchResponse(r io.Reader, idToIdx map[string]int, total int) ([]Result, error) {
	results := make([]Result, total)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "geocode: census batch parse response")
		}
		if len(fields) < 3 {
			continue
		}

		idx, ok := idToIdx[fields[0]]
		if !ok {
			continue
		}

		if !strings.EqualFold(fields[2], "Match") || len(fields) < 6 {
			results[idx] = Result{Matched: false, Source: "census"}
			continue
		}

		lon, lat, err := parseCensusCoords(fields[5])
		if err != nil {
			results[idx] = Result{Matched: false, Source: "census"}
			continue
		}

		quality := censusBatchQuality(fields[3])
		results[idx] = Result{
			Latitude:   lat,
			Longitude:  lon,
			Source:     "census",
			Quality:    quality,
			Confidence: qualityConfidence(quality),
			Matched:    true,
		}
	}

	return results, nil
}

// censusBatchQuality maps batch match exactness onto the quality taxonomy.
func censusBatchQuality(exactness string) string {
	if strings.EqualFold(strings.TrimSpace(exactness), "exact") {
		return "rooftop"
	}
	return "range"
}

// parseCensusCoords parses the batch response's "lon,lat" coordinate pair.
func parseCensusCoords(coords string) (lon, lat float64, err error) {
	parts := strings.SplitN(coords, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("geocode: invalid census coords %q", coords)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse census lon")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse census lat")
	}
	return lon, lat, nil
}

// formatOneLine joins the non-empty address parts for the one-line APIs.
func formatOneLine(addr AddressInput) string {
	var parts []string
	for _, p := range []string{addr.Street, addr.City, addr.State, addr.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
