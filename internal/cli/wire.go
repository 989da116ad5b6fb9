package cli

import (
	"fmt"
	"log/slog"

	"github.com/AMCarbonaro/KaliAI/internal/config"
	"github.com/AMCarbonaro/KaliAI/internal/orchestrator"
	"github.com/AMCarbonaro/KaliAI/internal/persona"
	"github.com/AMCarbonaro/KaliAI/internal/planner"
	"github.com/AMCarbonaro/KaliAI/internal/plugins"
	"github.com/AMCarbonaro/KaliAI/internal/scopeguard"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// buildEngine wires one engine for one persona. The persona is baked into
// the gate at construction, so a persona switch means a new engine.
func buildEngine(cfg config.Config, p persona.Persona, store *session.Store, log *slog.Logger) (*orchestrator.Engine, error) {
	bridge := planner.NewBridge(log)
	for _, backend := range cfg.Backends {
		switch backend.Kind {
		case "http":
			bridge.Register(planner.NewHTTPBackend(backend.Name, backend.BaseURL, backend.Model, backend.APIKey),
				backend.Timeout, backend.Priority)
		case "cli":
			bridge.Register(planner.NewCLIBackend(backend.Name, backend.Command),
				backend.Timeout, backend.Priority)
		default:
			return nil, fmt.Errorf("backend %s: unknown kind %q", backend.Name, backend.Kind)
		}
	}

	gate, err := orchestrator.NewGate(cfg.Safety.DangerousActions, p, cfg.Safety.ConfirmationTimeout)
	if err != nil {
		return nil, err
	}
	registry := orchestrator.NewRegistry(plugins.Builtin(nil)...)
	dispatcher, err := orchestrator.NewDispatcher(registry, cfg.Dispatch.Workers, cfg.Dispatch.ActionTimeout, log)
	if err != nil {
		return nil, err
	}

	return orchestrator.NewEngine(orchestrator.EngineConfig{
		Scope:      scopeguard.New(cfg.Scope.AllowedIPs, cfg.Scope.AllowedDomains, cfg.Scope.StrictMode),
		Bridge:     bridge,
		Gate:       gate,
		Dispatcher: dispatcher,
		Registry:   registry,
		Store:      store,
		Persona:    p,
		Log:        log,
	})
}
