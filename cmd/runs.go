package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sitescope/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect screening run history",
	Long:  "Commands for listing, viewing, and summarizing screening runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List screening runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		zip, _ := cmd.Flags().GetString("zip")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.RunFilter{
			Status: model.RunStatus(status),
			Zip:    zip,
			Limit:  limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full record of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rec, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, model.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (complete, walked, held, failed, ...)")
	runsListCmd.Flags().String("zip", "", "filter by site zip")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a run table to w.
func formatRunsList(w io.Writer, runs []model.OpportunityRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tZIP\tSTATUS\tDECISION\tSCORE\tSPEND\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\t$%.2f\t%s\n",
			r.RunID,
			r.Site.Zip,
			r.Status,
			r.Decision,
			r.FinalScore,
			r.SpendUSD,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush() //nolint:errcheck
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	ByDecision map[model.Decision]int
	Walked     int
	Held       int
	Failed     int
	SpendUSD   float64
}

// computeRunStats tallies decisions and spend across a run set.
func computeRunStats(runs []model.OpportunityRecord) runStats {
	s := runStats{ByDecision: map[model.Decision]int{}}
	s.Total = len(runs)
	for _, r := range runs {
		s.ByDecision[r.Decision]++
		s.SpendUSD += r.SpendUSD
		switch r.Status {
		case model.RunStatusWalked:
			s.Walked++
		case model.RunStatusHeld:
			s.Held++
		case model.RunStatusFailed:
			s.Failed++
		}
	}
	return s
}

// formatRunStats writes the aggregate table to w.
func formatRunStats(w io.Writer, s runStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total runs:\t%d\n", s.Total)
	for _, d := range []model.Decision{
		model.DecisionGo, model.DecisionMaybe, model.DecisionNoGo,
		model.DecisionWalk, model.DecisionHold, model.DecisionPending,
	} {
		if n := s.ByDecision[d]; n > 0 {
			fmt.Fprintf(tw, "  %s:\t%d\n", d, n)
		}
	}
	fmt.Fprintf(tw, "Walked:\t%d\n", s.Walked)
	fmt.Fprintf(tw, "Held:\t%d\n", s.Held)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Total spend:\t$%.2f\n", s.SpendUSD)
	tw.Flush() //nolint:errcheck
}
