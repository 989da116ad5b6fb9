// Package plugins adapts external security tools to the dispatcher: each
// plugin builds a command line from an action, runs it as a subprocess under
// the action's context, and normalizes the raw output into findings.
package plugins

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/AMCarbonaro/KaliAI/internal/orchestrator"
)

// Runner executes one tool invocation and returns its combined output.
// Implementations must honor ctx cancellation by killing the process.
type Runner interface {
	Run(ctx context.Context, command string, args ...string) (string, error)
}

// ExecRunner runs tools as local subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if len(detail) > 400 {
			detail = detail[:400]
		}
		if detail != "" {
			return "", fmt.Errorf("%s failed: %v: %s", command, err, detail)
		}
		return "", fmt.Errorf("%s failed: %w", command, err)
	}
	return string(output), nil
}

// Builtin returns the builtin plugins in their match order.
func Builtin(runner Runner) []orchestrator.Plugin {
	if runner == nil {
		runner = ExecRunner{}
	}
	return []orchestrator.Plugin{
		NewNmap(runner),
		NewMetasploit(runner),
		NewWebVuln(runner),
	}
}

func matchesTool(action orchestrator.Action, names ...string) bool {
	tool := strings.ToLower(strings.TrimSpace(action.Tool))
	for _, name := range names {
		if tool == name {
			return true
		}
	}
	return false
}
