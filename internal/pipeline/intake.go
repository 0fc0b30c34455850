package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/pkg/geocode"
)

// Geocode sources, in order of trust.
const (
	geoSourceProvided = "provided"
	geoSourceCentroid = "zip_centroid"
)

// Confidence assigned to a zip-centroid placement. Matches the
// geocoder's "approximate" quality band.
const centroidConfidence = 0.60

// runIntake hydrates the site's location: zip reference row, geocode,
// jurisdiction. An unmapped zip walks; everything else always places
// the site somewhere, falling back to the zip centroid.
func (d *Driver) runIntake(ctx context.Context, r *stepRunner, steps []ledger.Step, rec *model.OpportunityRecord) (model.GateVerdict, error) {
	var info *geocode.ZipInfo

	err := r.exec(ctx, steps[0], func(ctx context.Context) (map[string]any, error) {
		var err error
		info, err = d.deps.Zips.Lookup(rec.Site.Zip)
		if err != nil {
			return nil, err
		}
		return map[string]any{"county": info.County, "state": info.State}, nil
	})
	if err != nil {
		var nf *model.NotFoundError
		if errors.As(err, &nf) {
			r.skipRemaining(ctx, steps, 1, "zip not hydrated")
			return walk(steps[0].Pass, fmt.Sprintf("zip %s not in reference table", rec.Site.Zip)), nil
		}
		return model.GateVerdict{}, err
	}

	hyd := &model.ZipHydrationResult{
		Zip:            info.Zip,
		City:           info.City,
		County:         info.County,
		CountyFIPS:     info.CountyFIPS,
		State:          info.State,
		JurisdictionID: info.JurisdictionID,
	}

	err = r.exec(ctx, steps[1], func(ctx context.Context) (map[string]any, error) {
		d.locate(ctx, rec.Site, info, hyd)
		return map[string]any{
			"source":     hyd.GeocodeSource,
			"confidence": hyd.GeocodeConfidence,
		}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	err = r.exec(ctx, steps[2], func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"jurisdiction_id": hyd.JurisdictionID}, nil
	})
	if err != nil {
		return model.GateVerdict{}, err
	}

	rec.ZipHydration = hyd
	return promote(steps[0].Pass), nil
}

// locate fixes the site's coordinates: caller-provided wins, then an
// address geocode, then the zip centroid. Geocoder trouble degrades to
// the centroid rather than failing intake.
func (d *Driver) locate(ctx context.Context, site model.Site, info *geocode.ZipInfo, hyd *model.ZipHydrationResult) {
	if site.Latitude != 0 && site.Longitude != 0 {
		hyd.Latitude = site.Latitude
		hyd.Longitude = site.Longitude
		hyd.GeocodeSource = geoSourceProvided
		hyd.GeocodeConfidence = 1.0
		return
	}

	if site.Address != "" && d.deps.Geocoder != nil {
		result, err := d.deps.Geocoder.Geocode(ctx, geocode.AddressInput{
			Street:  site.Address,
			City:    info.City,
			State:   info.State,
			ZipCode: info.Zip,
		})
		if err != nil {
			zap.L().Warn("pipeline: geocode failed, using centroid",
				zap.String("zip", info.Zip), zap.Error(err))
		} else if result.Matched {
			hyd.Latitude = result.Latitude
			hyd.Longitude = result.Longitude
			hyd.GeocodeSource = result.Source
			hyd.GeocodeConfidence = result.Confidence
			return
		}
	}

	hyd.Latitude = info.Latitude
	hyd.Longitude = info.Longitude
	hyd.GeocodeSource = geoSourceCentroid
	hyd.GeocodeConfidence = centroidConfidence
}
