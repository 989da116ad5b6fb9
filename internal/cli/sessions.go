package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AMCarbonaro/KaliAI/internal/session"
)

func newSessionsCmd(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := application.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
				return nil
			}
			for _, id := range ids {
				loaded, err := store.Load(id)
				if err != nil {
					return err
				}
				queries, findings := summarizeRecords(loaded)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d queries, %d findings\n", id, queries, findings)
			}
			return nil
		},
	}
}

func summarizeRecords(loaded session.Session) (queries, findings int) {
	for _, record := range loaded.Records {
		switch record.Type {
		case session.RecordTypeQuery:
			queries++
		case session.RecordTypeFinding:
			findings++
		}
	}
	return queries, findings
}
