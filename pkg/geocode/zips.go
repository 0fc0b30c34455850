package geocode

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/sitescope/internal/model"
)

// ZipInfo is one row of the zip-to-jurisdiction reference table.
type ZipInfo struct {
	Zip            string
	City           string
	County         string
	CountyFIPS     string
	State          string
	JurisdictionID string
	Latitude       float64 // zip centroid
	Longitude      float64
	AreaSqMi       float64 // ZCTA land area, used for density
}

// ZipResolver maps zip codes to jurisdictions against an in-memory
// reference table. The embedded table covers the southeast screening
// footprint; production loads the full table from Postgres via
// db.BulkUpsert and constructs the resolver from it.
type ZipResolver struct {
	byZip map[string]ZipInfo
}

// NewZipResolver builds a resolver over the embedded reference table.
func NewZipResolver() *ZipResolver {
	return NewZipResolverFrom(zipTable)
}

// NewZipResolverFrom builds a resolver over explicit rows. Rows missing
// a jurisdiction id get one derived from state and county.
func NewZipResolverFrom(rows []ZipInfo) *ZipResolver {
	byZip := make(map[string]ZipInfo, len(rows))
	for _, r := range rows {
		if r.JurisdictionID == "" {
			r.JurisdictionID = JurisdictionID(r.State, r.County)
		}
		r.County = NormalizeCounty(r.County)
		byZip[r.Zip] = r
	}
	return &ZipResolver{byZip: byZip}
}

// Lookup returns the full reference row for a zip.
func (r *ZipResolver) Lookup(zip string) (*ZipInfo, error) {
	info, ok := r.byZip[strings.TrimSpace(zip)]
	if !ok {
		return nil, &model.NotFoundError{Kind: "zip", Key: zip}
	}
	return &info, nil
}

// ResolveZip returns the jurisdiction id for a zip.
func (r *ZipResolver) ResolveZip(zip string) (string, error) {
	info, err := r.Lookup(zip)
	if err != nil {
		return "", err
	}
	return info.JurisdictionID, nil
}

var countyTitle = cases.Title(language.AmericanEnglish)

// NormalizeCounty canonicalizes a county display name: title case, no
// trailing "County" suffix in any casing.
func NormalizeCounty(county string) string {
	c := strings.TrimSpace(county)
	if n := len(c) - len("county"); n >= 0 && strings.EqualFold(c[n:], "county") {
		c = c[:n]
	}
	return countyTitle.String(strings.TrimSpace(c))
}

// JurisdictionID derives the canonical jurisdiction key, e.g.
// ("NC", "Buncombe County") -> "nc-buncombe".
func JurisdictionID(state, county string) string {
	c := strings.ToLower(NormalizeCounty(county))
	c = strings.ReplaceAll(c, " ", "-")
	return fmt.Sprintf("%s-%s", strings.ToLower(strings.TrimSpace(state)), c)
}

// zipTable is the embedded southeast reference slice. Centroids are
// approximate to the zip, not the county.
var zipTable = []ZipInfo{
	{Zip: "28801", City: "Asheville", County: "Buncombe", CountyFIPS: "37021", State: "NC", Latitude: 35.5950, Longitude: -82.5515, AreaSqMi: 4.9},
	{Zip: "28803", City: "Asheville", County: "Buncombe", CountyFIPS: "37021", State: "NC", Latitude: 35.5340, Longitude: -82.5270, AreaSqMi: 22.3},
	{Zip: "28704", City: "Arden", County: "Buncombe", CountyFIPS: "37021", State: "NC", Latitude: 35.4660, Longitude: -82.5160, AreaSqMi: 26.8},
	{Zip: "28739", City: "Hendersonville", County: "Henderson", CountyFIPS: "37089", State: "NC", Latitude: 35.3060, Longitude: -82.5010, AreaSqMi: 60.2},
	{Zip: "28677", City: "Statesville", County: "Iredell", CountyFIPS: "37097", State: "NC", Latitude: 35.7570, Longitude: -80.8910, AreaSqMi: 84.1},
	{Zip: "28202", City: "Charlotte", County: "Mecklenburg", CountyFIPS: "37119", State: "NC", Latitude: 35.2280, Longitude: -80.8450, AreaSqMi: 1.6},
	{Zip: "28269", City: "Charlotte", County: "Mecklenburg", CountyFIPS: "37119", State: "NC", Latitude: 35.3370, Longitude: -80.8010, AreaSqMi: 25.4},
	{Zip: "27601", City: "Raleigh", County: "Wake", CountyFIPS: "37183", State: "NC", Latitude: 35.7740, Longitude: -78.6340, AreaSqMi: 3.4},
	{Zip: "27701", City: "Durham", County: "Durham", CountyFIPS: "37063", State: "NC", Latitude: 35.9990, Longitude: -78.8980, AreaSqMi: 5.6},
	{Zip: "29072", City: "Lexington", County: "Lexington", CountyFIPS: "45063", State: "SC", Latitude: 34.0070, Longitude: -81.2320, AreaSqMi: 64.7},
	{Zip: "29201", City: "Columbia", County: "Richland", CountyFIPS: "45079", State: "SC", Latitude: 33.9830, Longitude: -81.0300, AreaSqMi: 5.8},
	{Zip: "29605", City: "Greenville", County: "Greenville", CountyFIPS: "45045", State: "SC", Latitude: 34.7750, Longitude: -82.4260, AreaSqMi: 22.9},
	{Zip: "29403", City: "Charleston", County: "Charleston", CountyFIPS: "45019", State: "SC", Latitude: 32.8070, Longitude: -79.9480, AreaSqMi: 3.5},
	{Zip: "30301", City: "Atlanta", County: "Fulton", CountyFIPS: "13121", State: "GA", Latitude: 33.7490, Longitude: -84.3880, AreaSqMi: 1.1},
	{Zip: "30043", City: "Lawrenceville", County: "Gwinnett", CountyFIPS: "13135", State: "GA", Latitude: 33.9620, Longitude: -84.0080, AreaSqMi: 27.5},
	{Zip: "30144", City: "Kennesaw", County: "Cobb", CountyFIPS: "13067", State: "GA", Latitude: 34.0280, Longitude: -84.6160, AreaSqMi: 16.8},
	{Zip: "31401", City: "Savannah", County: "Chatham", CountyFIPS: "13051", State: "GA", Latitude: 32.0760, Longitude: -81.0880, AreaSqMi: 6.3},
	{Zip: "37203", City: "Nashville", County: "Davidson", CountyFIPS: "47037", State: "TN", Latitude: 36.1490, Longitude: -86.7920, AreaSqMi: 3.3},
	{Zip: "37920", City: "Knoxville", County: "Knox", CountyFIPS: "47093", State: "TN", Latitude: 35.9200, Longitude: -83.8700, AreaSqMi: 33.8},
	{Zip: "37402", City: "Chattanooga", County: "Hamilton", CountyFIPS: "47065", State: "TN", Latitude: 35.0420, Longitude: -85.3140, AreaSqMi: 2.8},
	{Zip: "32801", City: "Orlando", County: "Orange", CountyFIPS: "12095", State: "FL", Latitude: 28.5420, Longitude: -81.3730, AreaSqMi: 2.3},
	{Zip: "33609", City: "Tampa", County: "Hillsborough", CountyFIPS: "12057", State: "FL", Latitude: 27.9430, Longitude: -82.5070, AreaSqMi: 4.3},
	{Zip: "32210", City: "Jacksonville", County: "Duval", CountyFIPS: "12031", State: "FL", Latitude: 30.2660, Longitude: -81.7430, AreaSqMi: 18.7},
}
