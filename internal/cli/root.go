// Package cli is the kaliai command surface: one-shot and interactive query
// runs, session listing, cross-session recall, report rendering, and persona
// management.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AMCarbonaro/KaliAI/internal/config"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

func Execute() error {
	return newRootCmd().Execute()
}

type app struct {
	cfg config.Config
	log *slog.Logger
}

func (a *app) openStore() (*session.Store, error) {
	return session.NewStore(a.cfg.Sessions.Dir)
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	application := &app{}

	rootCmd := &cobra.Command{
		Use:           "kaliai",
		Short:         "Supervised security-testing orchestration from natural language",
		Long:          "kaliai turns natural-language security-testing requests into scoped, gated tool invocations: every target is checked against the authorized scope, dangerous actions wait for explicit confirmation, and all findings land in append-only session logs.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			application.cfg = cfg

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			application.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.kaliai/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newRunCmd(application),
		newSessionsCmd(application),
		newRecallCmd(application),
		newReportCmd(application),
		newPersonasCmd(application),
	)
	return rootCmd
}
