package planner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIBackend shells out to a local reasoning command (gemini-cli style): the
// prompt goes in on stdin, the completion comes back on stdout. The bridge's
// per-backend timeout arrives via ctx and kills the subprocess on expiry.
type CLIBackend struct {
	name    string
	command string
	args    []string
}

func NewCLIBackend(name, command string, args ...string) *CLIBackend {
	return &CLIBackend{name: name, command: command, args: args}
}

func (b *CLIBackend) Name() string { return b.name }

func (b *CLIBackend) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(b.command) == "" {
		return "", fmt.Errorf("backend %s: command is not configured", b.name)
	}
	cmd := exec.CommandContext(ctx, b.command, b.args...)
	cmd.Stdin = strings.NewReader(systemPrompt + "\n\n" + prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("%s failed: %s: %w", b.command, detail, err)
		}
		return "", fmt.Errorf("%s failed: %w", b.command, err)
	}
	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return "", fmt.Errorf("%s produced no output", b.command)
	}
	return content, nil
}
