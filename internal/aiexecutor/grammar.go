package aiexecutor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// decision is the strict JSON action grammar the LLM must answer with.
type decision struct {
	Thinking string         `json:"thinking"`
	Action   decisionAction `json:"action"`
	Complete bool           `json:"complete"`
	Result   string         `json:"result"`
}

type decisionAction struct {
	Type  string `json:"type"` // click | type | scroll | wait
	Ref   string `json:"ref"`
	Value string `json:"value"`
}

// defaultDecision is returned whenever the model's response cannot be
// parsed, per §4.I: a no-op wait long enough to let the page settle.
func defaultDecision() decision {
	return decision{Action: decisionAction{Type: "wait", Value: "1000"}}
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseDecision extracts and parses the first JSON object found in text. On
// any failure it returns the default wait action rather than an error, since
// the loop must always have something to act on.
func parseDecision(text string) decision {
	start := strings.Index(text, "{")
	if start < 0 {
		return defaultDecision()
	}
	var d decision
	if err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&d); err != nil {
		return defaultDecision()
	}
	if d.Action.Type == "" {
		return defaultDecision()
	}
	return d
}

var (
	containsPattern = regexp.MustCompile(`:contains\(([^)]*)\)`)
	visiblePattern  = regexp.MustCompile(`:visible\b`)
)

// normalizeSelector rewrites jQuery-isms the LLM is prone to producing into
// selectors a real DOM query understands: `:contains(x)` becomes the
// Playwright-style `:has-text(x)`, and `:visible` (unsupported by
// querySelector) is stripped outright.
func normalizeSelector(selector string) string {
	out := containsPattern.ReplaceAllString(selector, `:has-text($1)`)
	out = visiblePattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
