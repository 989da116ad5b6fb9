package plugins

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/AMCarbonaro/KaliAI/internal/orchestrator"
	"github.com/AMCarbonaro/KaliAI/internal/session"
)

// severityKeywords orders from most to least severe so the first hit wins.
var severityKeywords = []struct {
	severity string
	keywords []string
}{
	{severity: session.SeverityHigh, keywords: []string{"sql injection", "command injection", "remote code", "rce"}},
	{severity: session.SeverityMedium, keywords: []string{"xss", "cross-site", "traversal", "csrf", "file inclusion"}},
	{severity: session.SeverityLow, keywords: []string{"osvdb", "outdated", "disclosure", "missing"}},
}

// WebVuln runs a nikto scan against an http(s) target and normalizes each
// reported item into a web_vulnerability finding.
type WebVuln struct {
	run Runner
}

func NewWebVuln(run Runner) *WebVuln {
	return &WebVuln{run: run}
}

func (p *WebVuln) Name() string { return "webvuln" }

func (p *WebVuln) Matches(action orchestrator.Action) bool {
	return matchesTool(action, "webvuln", "nikto")
}

func (p *WebVuln) RiskClassify(orchestrator.Action) (orchestrator.Risk, bool) {
	return "", false
}

func (p *WebVuln) Execute(ctx context.Context, action orchestrator.Action, rc orchestrator.RuntimeConfig) ([]session.Finding, error) {
	host, port, ssl := splitWebTarget(action.Target)
	if host == "" {
		return nil, fmt.Errorf("no target specified")
	}

	args := []string{"-h", host, "-p", strconv.Itoa(port), "-nointeractive"}
	if ssl {
		args = append(args, "-ssl")
	}
	output, err := p.run.Run(ctx, "nikto", args...)
	if err != nil {
		return nil, err
	}
	return p.parse(host, output), nil
}

// splitWebTarget normalizes a URL or bare host into host, port, and ssl.
// Bare hosts default to plain http on 80.
func splitWebTarget(target string) (string, int, bool) {
	target = strings.TrimSpace(target)
	ssl := false
	switch {
	case strings.HasPrefix(target, "https://"):
		target = strings.TrimPrefix(target, "https://")
		ssl = true
	case strings.HasPrefix(target, "http://"):
		target = strings.TrimPrefix(target, "http://")
	}
	target = strings.TrimSuffix(strings.SplitN(target, "/", 2)[0], ".")

	port := 80
	if ssl {
		port = 443
	}
	if host, rawPort, ok := strings.Cut(target, ":"); ok {
		if parsed, err := strconv.Atoi(rawPort); err == nil && parsed > 0 && parsed < 65536 {
			return host, parsed, ssl
		}
		return host, port, ssl
	}
	return target, port, ssl
}

// parse keeps nikto's "+ " item lines, skipping the banner fields it also
// prefixes that way.
func (p *WebVuln) parse(host, output string) []session.Finding {
	findings := []session.Finding{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+ ") {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(line, "+ "))
		if item == "" || isNiktoBanner(item) {
			continue
		}
		findings = append(findings, session.Finding{
			Target:   host,
			Category: "web_vulnerability",
			Severity: classifySeverity(item),
			Evidence: map[string]string{"detail": item},
		})
	}
	return findings
}

func isNiktoBanner(item string) bool {
	for _, prefix := range []string{"Target IP:", "Target Hostname:", "Target Port:", "Start Time:", "End Time:", "Server:"} {
		if strings.HasPrefix(item, prefix) {
			return true
		}
	}
	return false
}

func classifySeverity(item string) string {
	lowered := strings.ToLower(item)
	for _, entry := range severityKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lowered, keyword) {
				return entry.severity
			}
		}
	}
	return session.SeverityInfo
}
