package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/pkg/geocode"
)

var reconZips []string

var reconCmd = &cobra.Command{
	Use:   "recon [jurisdiction-id...]",
	Short: "Dispatch capability recon for jurisdictions",
	Long:  "Refreshes capability profiles through the recon agent. Jurisdictions can be named directly (e.g. nc-buncombe) or resolved from zips with --zip. Fresh profiles are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("recon"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		zips := geocode.NewZipResolver()

		ids := args
		for _, zip := range reconZips {
			id, err := zips.ResolveZip(zip)
			if err != nil {
				zap.L().Warn("skipping unmapped zip", zap.String("zip", zip), zap.Error(err))
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return eris.New("no jurisdictions to recon; pass ids or --zip")
		}

		cache := capability.NewCache(st, zips, capability.Config{
			TTL:           time.Duration(cfg.Capability.TTLDays) * 24 * time.Hour,
			WarningWindow: time.Duration(cfg.Capability.WarningWindowDays) * 24 * time.Hour,
		})
		agent := capability.NewHTTPAgent(cfg.ReconAgent.BaseURL, cfg.ReconAgent.Key,
			capability.WithPollTimeout(time.Duration(cfg.ReconAgent.PollTimeoutSecs)*time.Second),
		)
		dispatcher := capability.NewDispatcher(cache, agent, cfg.ReconAgent.MaxConcurrent)

		result, err := dispatcher.Run(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "dispatch recon")
		}

		zap.L().Info("recon dispatch complete",
			zap.Int("reconned", len(result.Reconned)),
			zap.Int("already_fresh", len(result.AlreadyFresh)),
			zap.Int("failed", len(result.Failed)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	reconCmd.Flags().StringSliceVar(&reconZips, "zip", nil, "resolve jurisdictions from zip codes")
	rootCmd.AddCommand(reconCmd)
}
