package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AMCarbonaro/KaliAI/internal/orchestrator"
	"github.com/AMCarbonaro/KaliAI/internal/persona"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

func newRunCmd(application *app) *cobra.Command {
	var (
		personaName string
		sessionID   string
	)

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run one query, or start an interactive session when no query is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := persona.Load(application.cfg.Personas.Dir, personaName)
			if err != nil {
				return err
			}
			store, err := application.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			engine, err := buildEngine(application.cfg, p, store, application.log)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = session.NewID()
			}

			runner := &queryRunner{
				engine: engine,
				out:    cmd.OutOrStdout(),
				in:     bufio.NewReader(cmd.InOrStdin()),
			}
			if len(args) > 0 {
				return runner.handle(cmd.Context(), sessionID, strings.Join(args, " "))
			}
			return runner.interactive(cmd.Context(), sessionID)
		},
	}

	cmd.Flags().StringVar(&personaName, "persona", "", "persona preset to apply")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	return cmd
}

type queryRunner struct {
	engine *orchestrator.Engine
	out    io.Writer
	in     *bufio.Reader
}

// handle drives one query, rendering events as they arrive and answering
// confirmation requests from stdin.
func (r *queryRunner) handle(ctx context.Context, sessionID, query string) error {
	done := make(chan error, 1)
	go func() { done <- r.engine.HandleQuery(ctx, sessionID, query) }()

	for {
		select {
		case event := <-r.engine.Events():
			r.render(event)
			if event.Type == orchestrator.EventConfirmationRequired && event.Confirmation != nil {
				r.promptConfirm(event.Confirmation)
			}
			if event.Type == orchestrator.EventPlanComplete {
				return <-done
			}
		case err := <-done:
			// The plan aborted before completing; flush what was emitted.
			r.drain()
			return err
		}
	}
}

func (r *queryRunner) interactive(ctx context.Context, sessionID string) error {
	fmt.Fprintf(r.out, "session %s (type a request, or 'exit' to quit)\n", sessionID)
	for {
		fmt.Fprint(r.out, "kaliai> ")
		line, err := r.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		query := strings.TrimSpace(line)
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := r.handle(ctx, sessionID, query); err != nil {
			// One refused or failed query does not end the session.
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *queryRunner) promptConfirm(req *orchestrator.ConfirmationRequest) {
	fmt.Fprintf(r.out, "  confirm %s on %s (%s)? [y/N]: ", req.Tool, req.Target, req.Reason)
	line, err := r.in.ReadString('\n')
	if err != nil {
		// No answer means the request runs out its expiry clock.
		return
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	approve := answer == "y" || answer == "yes"
	if err := r.engine.Confirm(req.ID, approve); err != nil {
		fmt.Fprintf(r.out, "  confirmation failed: %v\n", err)
	}
}

func (r *queryRunner) render(event orchestrator.Event) {
	switch event.Type {
	case orchestrator.EventPersonaLoaded:
		fmt.Fprintf(r.out, "persona: %s\n", event.Message)
	case orchestrator.EventQueryRejected:
		fmt.Fprintf(r.out, "refused: %s\n", event.Err)
	case orchestrator.EventPlanReady:
		if event.Message != "" {
			fmt.Fprintf(r.out, "plan: %s\n", event.Message)
		}
	case orchestrator.EventPlanFailed:
		fmt.Fprintf(r.out, "planning failed: %s\n", event.Err)
	case orchestrator.EventActionStarted:
		fmt.Fprintf(r.out, "  -> %s %s\n", event.Tool, event.Target)
	case orchestrator.EventActionCompleted:
		fmt.Fprintf(r.out, "  ok %s %s\n", event.Tool, event.Target)
	case orchestrator.EventActionFailed:
		fmt.Fprintf(r.out, "  failed %s %s: %s\n", event.Tool, event.Target, event.Err)
	case orchestrator.EventActionRejected:
		fmt.Fprintf(r.out, "  rejected %s %s: %s\n", event.Tool, event.Target, event.Err)
	case orchestrator.EventFindingAdded:
		fmt.Fprintf(r.out, "  [%s] %s on %s\n", event.Severity, event.Message, event.Target)
	case orchestrator.EventConfirmationResolved:
		fmt.Fprintf(r.out, "  confirmation %s for %s %s\n", event.Message, event.Tool, event.Target)
	case orchestrator.EventPlanComplete:
		if event.Plan != nil {
			fmt.Fprintf(r.out, "done: %d/%d actions completed, %d findings\n",
				event.Plan.Completed, event.Plan.Total, event.Plan.Findings)
		}
	}
}

func (r *queryRunner) drain() {
	for {
		select {
		case event := <-r.engine.Events():
			r.render(event)
		default:
			return
		}
	}
}
