package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AMCarbonaro/KaliAI/internal/report"
)

func newReportCmd(application *app) *cobra.Command {
	var sessionIDs []string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a deduplicated finding summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := application.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := report.Summarize(store, sessionIDs...)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render(summary))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sessionIDs, "session", nil, "session id(s) to summarize; default all")
	return cmd
}
