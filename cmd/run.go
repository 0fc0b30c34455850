package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/model"
)

var (
	runZip     string
	runAddress string
	runLat     float64
	runLng     float64
	runAcres   float64
	runWKT     string
	runAsking  float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Screen a single candidate site",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initScreen(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		site := model.Site{
			Zip:            runZip,
			Address:        runAddress,
			Latitude:       runLat,
			Longitude:      runLng,
			AcreageGross:   runAcres,
			ParcelWKT:      runWKT,
			AskingPriceUSD: runAsking,
		}

		rec, err := env.Driver.Run(ctx, site)
		if err != nil {
			return eris.Wrap(err, "screening run")
		}

		zap.L().Info("screening complete",
			zap.String("run_id", rec.RunID),
			zap.String("zip", site.Zip),
			zap.String("decision", string(rec.Decision)),
			zap.Float64("final_score", rec.FinalScore),
			zap.Float64("spend_usd", rec.SpendUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	runCmd.Flags().StringVar(&runZip, "zip", "", "site zip code (required)")
	runCmd.Flags().StringVar(&runAddress, "address", "", "street address for geocoding")
	runCmd.Flags().Float64Var(&runLat, "lat", 0, "site latitude")
	runCmd.Flags().Float64Var(&runLng, "lng", 0, "site longitude")
	runCmd.Flags().Float64Var(&runAcres, "acres", 0, "gross parcel acreage")
	runCmd.Flags().StringVar(&runWKT, "parcel-wkt", "", "parcel boundary as WKT")
	runCmd.Flags().Float64Var(&runAsking, "asking-price", 0, "asking price in USD")
	_ = runCmd.MarkFlagRequired("zip")
	rootCmd.AddCommand(runCmd)
}
