package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
)

var ledgerPass string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print the screening step doctrine",
	Long:  "Shows the ordered step table per pass with tool class, cost, lock flag, and gap kind, plus the deterministic share of each pass.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, err := ledger.New()
		if err != nil {
			return err
		}

		passes := l.Passes()
		if ledgerPass != "" {
			passes = []model.Pass{model.Pass(ledgerPass)}
		}

		for _, pass := range passes {
			if err := formatLedgerPass(os.Stdout, l, pass); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerPass, "pass", "", "show a single pass (pass0, pass1, pass1_5, pass2, pass3)")
	rootCmd.AddCommand(ledgerCmd)
}

func formatLedgerPass(w io.Writer, l *ledger.Ledger, pass model.Pass) error {
	steps, err := l.StepsFor(pass)
	if err != nil {
		return err
	}
	stats, err := l.StatsFor(pass)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s  (%d steps, %d%% deterministic, max spend $%.2f)\n",
		pass, stats.Total, stats.DeterministicPercent, stats.TotalCostUSD)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tSTEP\tTOOL\tCOST\tLOCKED\tGAP")
	for _, s := range steps {
		locked := ""
		if s.Locked {
			locked = "locked"
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t$%.2f\t%s\t%s\n",
			s.StepIndex, s.Name, s.Tool, s.CostUSD, locked, s.GapKind)
	}
	tw.Flush() //nolint:errcheck
	fmt.Fprintln(w)
	return nil
}
