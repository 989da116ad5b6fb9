package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlanFromFencedJSON(t *testing.T) {
	content := "Here is the plan:\n```json\n" +
		`{"rationale":"recon first","actions":[` +
		`{"tool":"Nmap","target":"192.168.1.10","params":{"scan_type":"full"}},` +
		`{"tool":"webvuln","target":"http://192.168.1.10"}]}` +
		"\n```\nGood luck."

	actions, rationale := ExtractPlan("scan the box", content)
	require.Len(t, actions, 2)
	assert.Equal(t, "nmap", actions[0].Tool, "tool names normalize to lower case")
	assert.Equal(t, "full", actions[0].Params["scan_type"])
	assert.Equal(t, "webvuln", actions[1].Tool)
	assert.Equal(t, "recon first", rationale)
}

func TestExtractPlanKeywordFallback(t *testing.T) {
	content := "You should run a port scan against 192.168.1.50 and check the web server."

	actions, _ := ExtractPlan("look at the host", content)
	require.NotEmpty(t, actions)
	tools := map[string]string{}
	for _, action := range actions {
		tools[action.Tool] = action.Target
	}
	assert.Equal(t, "192.168.1.50", tools["nmap"])
	assert.Equal(t, "192.168.1.50", tools["webvuln"])
}

func TestExtractPlanTargetFromQueryWhenContentHasNone(t *testing.T) {
	actions, _ := ExtractPlan("scan ports on 10.1.2.3", "Sure, starting a scan now.")
	require.Len(t, actions, 1)
	assert.Equal(t, "nmap", actions[0].Tool)
	assert.Equal(t, "10.1.2.3", actions[0].Target)
}

func TestExtractPlanNothingActionable(t *testing.T) {
	actions, _ := ExtractPlan("how are you", "I am a language model and I am fine.")
	assert.Empty(t, actions)
}

func TestExtractPlanExplicitlyEmptyActions(t *testing.T) {
	actions, rationale := ExtractPlan("status?", `{"rationale":"nothing to do","actions":[]}`)
	assert.Empty(t, actions)
	assert.Equal(t, "nothing to do", rationale)
}

func TestExtractPlanMalformedJSONFallsBack(t *testing.T) {
	content := `{"actions": [BROKEN` + "\nrun nmap on 192.168.1.7"
	actions, _ := ExtractPlan("scan", content)
	require.Len(t, actions, 1)
	assert.Equal(t, "192.168.1.7", actions[0].Target)
}
