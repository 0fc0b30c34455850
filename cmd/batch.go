package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sitescope/internal/fetcher"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/internal/pipeline"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch <sites.csv>",
	Short: "Screen a CSV of candidate sites",
	Long:  "Reads sites from a CSV with a header row (zip, address, lat, lng, acres, asking_price) and screens them concurrently.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScreen(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open sites csv")
		}
		defer f.Close() //nolint:errcheck

		sites, err := readSites(ctx, f)
		if err != nil {
			return err
		}

		// Warm the AI tiers' prompt cache once so the batch reads it.
		if err := pipeline.WarmPromptCache(ctx, env.AI); err != nil {
			zap.L().Warn("prompt cache warmup failed", zap.Error(err))
		}

		return processBatch(ctx, sites, batchLimit, cfg.Batch.MaxConcurrentSites, func(ctx context.Context, site model.Site) (*model.OpportunityRecord, error) {
			return env.Driver.Run(ctx, site)
		})
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of sites to screen (0 = all)")
	rootCmd.AddCommand(batchCmd)
}

// readSites parses the intake CSV into sites, mapping columns by header
// name so column order does not matter.
func readSites(ctx context.Context, f *os.File) ([]model.Site, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var header []string
	var sites []model.Site
	for row := range rowCh {
		if header == nil {
			header = <-headerCh
		}
		site, err := siteFromRow(header, row)
		if err != nil {
			zap.L().Warn("skipping malformed row", zap.Strings("row", row), zap.Error(err))
			continue
		}
		sites = append(sites, site)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "parse sites csv")
	}
	return sites, nil
}

// siteFromRow maps one CSV row onto a Site. Zip is the only required
// column; numeric columns tolerate blanks.
func siteFromRow(header, row []string) (model.Site, error) {
	var site model.Site
	for i, name := range header {
		if i >= len(row) {
			break
		}
		val := strings.TrimSpace(row[i])
		if val == "" {
			continue
		}
		var err error
		switch strings.ToLower(name) {
		case "zip":
			site.Zip = val
		case "address":
			site.Address = val
		case "lat", "latitude":
			site.Latitude, err = strconv.ParseFloat(val, 64)
		case "lng", "longitude":
			site.Longitude, err = strconv.ParseFloat(val, 64)
		case "acres", "acreage":
			site.AcreageGross, err = strconv.ParseFloat(val, 64)
		case "asking_price":
			site.AskingPriceUSD, err = strconv.ParseFloat(val, 64)
		case "parcel_wkt":
			site.ParcelWKT = val
		}
		if err != nil {
			return model.Site{}, eris.Wrapf(err, "column %s", name)
		}
	}
	if site.Zip == "" {
		return model.Site{}, eris.New("missing zip")
	}
	return site, nil
}

// screenFunc is the callback signature for screening one site.
type screenFunc func(ctx context.Context, site model.Site) (*model.OpportunityRecord, error)

// processBatch applies limit, then screens sites concurrently. Individual
// failures are logged and counted, never abort the batch.
func processBatch(ctx context.Context, sites []model.Site, limit, concurrency int, screen screenFunc) error {
	if len(sites) == 0 {
		zap.L().Info("no sites to screen")
		return nil
	}

	if limit > 0 && len(sites) > limit {
		sites = sites[:limit]
	}

	zap.L().Info("screening batch",
		zap.Int("sites", len(sites)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, site := range sites {
		g.Go(func() error {
			log := zap.L().With(zap.String("zip", site.Zip))

			rec, err := screen(gctx, site)
			if err != nil {
				failed.Add(1)
				log.Error("screening failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("screening complete",
				zap.String("run_id", rec.RunID),
				zap.String("decision", string(rec.Decision)),
				zap.Float64("final_score", rec.FinalScore),
				zap.Float64("spend_usd", rec.SpendUSD),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch screening")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
