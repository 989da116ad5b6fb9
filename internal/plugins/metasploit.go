package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/AMCarbonaro/KaliAI/internal/orchestrator"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// moduleLine matches msfconsole search output rows: an index, a module path,
// and the trailing description columns.
var moduleLine = regexp.MustCompile(`(?m)^\s*\d+\s+((?:exploit|auxiliary)/\S+)\s+(.*)$`)

// Metasploit searches for candidate modules against the target's services.
// It never launches an exploit itself; it reports exploit_candidate findings
// for the operator to act on. Always classified dangerous so the gate parks
// it behind a confirmation.
type Metasploit struct {
	run Runner
}

func NewMetasploit(run Runner) *Metasploit {
	return &Metasploit{run: run}
}

func (p *Metasploit) Name() string { return "metasploit" }

func (p *Metasploit) Matches(action orchestrator.Action) bool {
	return matchesTool(action, "metasploit", "msf")
}

func (p *Metasploit) RiskClassify(orchestrator.Action) (orchestrator.Risk, bool) {
	return orchestrator.RiskRequiresConfirmation, true
}

func (p *Metasploit) Execute(ctx context.Context, action orchestrator.Action, rc orchestrator.RuntimeConfig) ([]session.Finding, error) {
	term := strings.TrimSpace(action.Params["search"])
	if term == "" {
		term = strings.TrimSpace(action.Params["service"])
	}
	if term == "" {
		return nil, fmt.Errorf("no search term or service specified")
	}

	search := fmt.Sprintf("search type:exploit %s; exit", term)
	output, err := p.run.Run(ctx, "msfconsole", "-q", "-x", search)
	if err != nil {
		return nil, err
	}
	return p.parse(action.Target, term, output), nil
}

func (p *Metasploit) parse(target, term, output string) []session.Finding {
	findings := []session.Finding{}
	seen := map[string]struct{}{}
	for _, match := range moduleLine.FindAllStringSubmatch(output, -1) {
		module := match[1]
		if _, ok := seen[module]; ok {
			continue
		}
		seen[module] = struct{}{}
		findings = append(findings, session.Finding{
			Target:   target,
			Category: "exploit_candidate",
			Severity: session.SeverityMedium,
			Evidence: map[string]string{
				"module":      module,
				"search_term": term,
				"description": strings.TrimSpace(match[2]),
			},
		})
	}
	return findings
}
