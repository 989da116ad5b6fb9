package planner

import (
	"encoding/json"
	"strings"

	"github.com/AMCarbonaro/KaliAI/internal/scopeguard"
)

// ExtractPlan recovers structured actions from free-text backend output.
// Backends are asked for JSON but not trusted to produce it: a fenced or
// embedded JSON object is tried first, then a keyword pass over the text.
// An empty action list with a nil error means the text was understood but
// proposes nothing.
func ExtractPlan(query, content string) ([]ProposedAction, string) {
	content = stripCodeFences(content)

	if actions, rationale, ok := parseJSONPlan(content); ok {
		return actions, rationale
	}
	return keywordActions(query, content), ""
}

type jsonPlan struct {
	Rationale string `json:"rationale"`
	Actions   []struct {
		Tool   string            `json:"tool"`
		Target string            `json:"target"`
		Params map[string]string `json:"params"`
	} `json:"actions"`
}

func parseJSONPlan(content string) ([]ProposedAction, string, bool) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, "", false
	}
	var parsed jsonPlan
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, "", false
	}
	out := make([]ProposedAction, 0, len(parsed.Actions))
	for _, action := range parsed.Actions {
		tool := strings.ToLower(strings.TrimSpace(action.Tool))
		if tool == "" {
			continue
		}
		out = append(out, ProposedAction{
			Tool:   tool,
			Target: strings.TrimSpace(action.Target),
			Params: action.Params,
		})
	}
	// A JSON object without an actions key is not a plan; fall through to
	// the keyword pass rather than accepting it as "no actions".
	if len(out) == 0 && parsed.Actions == nil {
		return nil, "", false
	}
	return out, strings.TrimSpace(parsed.Rationale), true
}

// toolKeywords mirrors the match predicates of the builtin plugins, so the
// keyword fallback proposes tools the registry can actually dispatch.
var toolKeywords = []struct {
	tool     string
	keywords []string
}{
	{tool: "nmap", keywords: []string{"scan", "port", "nmap", "service", "enumerate"}},
	{tool: "metasploit", keywords: []string{"exploit", "metasploit", "msf", "cve", "vulnerability"}},
	{tool: "webvuln", keywords: []string{"web", "http", "nikto", "nuclei", "website"}},
}

func keywordActions(query, content string) []ProposedAction {
	target := scopeguard.ExtractTarget(content)
	if target == "" {
		target = scopeguard.ExtractTarget(query)
	}
	if target == "" {
		return nil
	}
	haystack := strings.ToLower(query + "\n" + content)
	out := []ProposedAction{}
	for _, entry := range toolKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(haystack, keyword) {
				out = append(out, ProposedAction{Tool: entry.tool, Target: target})
				break
			}
		}
	}
	return out
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimLeft(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSuffix(trimmed, "```")
	}
	return strings.TrimSpace(trimmed)
}

func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return ""
}
