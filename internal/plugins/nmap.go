package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/AMCarbonaro/KaliAI/internal/orchestrator"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// Port specs per scan type mirror the classic presets: top-1000 for quick,
// everything for full, the common web ports for http.
var nmapPortSpecs = map[string]string{
	"quick": "1-1000",
	"full":  "1-65535",
	"http":  "80,443,8080,8443,8000,8888",
}

var openPortLine = regexp.MustCompile(`(?m)^(\d+)/(tcp|udp)\s+open\s+(\S+)\s*(.*)$`)

// Nmap runs port scans and turns each open port into an open_port finding.
type Nmap struct {
	run Runner
}

func NewNmap(run Runner) *Nmap {
	return &Nmap{run: run}
}

func (p *Nmap) Name() string { return "nmap" }

func (p *Nmap) Matches(action orchestrator.Action) bool {
	return matchesTool(action, "nmap", "portscan")
}

func (p *Nmap) RiskClassify(orchestrator.Action) (orchestrator.Risk, bool) {
	return "", false
}

func (p *Nmap) Execute(ctx context.Context, action orchestrator.Action, rc orchestrator.RuntimeConfig) ([]session.Finding, error) {
	if strings.TrimSpace(action.Target) == "" {
		return nil, fmt.Errorf("no target specified")
	}
	scanType := strings.ToLower(action.Params["scan_type"])
	ports, ok := nmapPortSpecs[scanType]
	if !ok {
		scanType = "quick"
		ports = nmapPortSpecs[scanType]
	}

	output, err := p.run.Run(ctx, "nmap", "-sV", "-p", ports, action.Target)
	if err != nil {
		return nil, err
	}
	return p.parse(action.Target, scanType, output), nil
}

func (p *Nmap) parse(target, scanType, output string) []session.Finding {
	findings := []session.Finding{}
	for _, match := range openPortLine.FindAllStringSubmatch(output, -1) {
		evidence := map[string]string{
			"port":      match[1],
			"protocol":  match[2],
			"service":   match[3],
			"scan_type": scanType,
		}
		if version := strings.TrimSpace(match[4]); version != "" {
			evidence["version"] = version
		}
		findings = append(findings, session.Finding{
			Target:   target,
			Category: "open_port",
			Severity: session.SeverityInfo,
			Evidence: evidence,
		})
	}
	return findings
}
