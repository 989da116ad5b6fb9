package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

func newRecallCmd(application *app) *cobra.Command {
	var (
		sessionIDs []string
		target     string
		category   string
		severity   string
	)

	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Query findings across sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := application.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			findings, err := store.Query(session.QueryFilter{
				SessionIDs: sessionIDs,
				Target:     target,
				Category:   category,
				Severity:   severity,
			})
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching findings")
				return nil
			}
			for _, finding := range findings {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s on %s (session %s, %s)\n",
					finding.Severity, finding.Category, finding.Target,
					finding.SessionID, finding.TS.Format("2006-01-02 15:04"))
				for key, value := range finding.Evidence {
					fmt.Fprintf(cmd.OutOrStdout(), "    %s: %s\n", key, value)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sessionIDs, "session", nil, "restrict to session id(s); default all")
	cmd.Flags().StringVar(&target, "target", "", "filter by target")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	return cmd
}
