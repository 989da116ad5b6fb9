package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AMCarbonaro/KaliAI/internal/persona"
)

func newPersonasCmd(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List available persona presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := persona.List(application.cfg.Personas.Dir)
			if err != nil {
				return err
			}
			def := persona.Default()
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (built in)\n", def.Name, def.Description)
			for _, name := range names {
				p, err := persona.Load(application.cfg.Personas.Dir, name)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  (unreadable: %v)\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", p.Name, p.Description)
			}
			return nil
		},
	}
}
