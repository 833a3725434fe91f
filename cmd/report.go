package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zueggcom/grantcheck/internal/report"
)

// newReportCmd renders an HTML report from a previously written JSON
// results file, without touching the network or the token cache.
func newReportCmd() *cobra.Command {
	var (
		fromPath string
		outPath  string
	)

	cmd := &cobra.Command{
		Use:          "report",
		Short:        "Render an HTML report from a JSON results file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := report.LoadJSON(fromPath)
			if err != nil {
				return err
			}
			if err := report.WriteHTML(outPath, summary); err != nil {
				return err
			}
			fmt.Printf("Report for run %s written to %s (%d checks, %.1f%% pass rate)\n",
				summary.RunID, outPath, summary.Total, summary.PassRate)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromPath, "from", "", "JSON results file to render")
	cmd.Flags().StringVar(&outPath, "out", reportFileName, "HTML report output path")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}
