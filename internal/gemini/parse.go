package gemini

import "strings"

// stripJSONFence removes markdown ```json fencing the model often wraps
// around structured output. Input without fencing is returned trimmed.
func stripJSONFence(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "```json" {
			rest := strings.Join(lines[i+1:], "\n")
			body, _, _ := strings.Cut(rest, "```")
			return strings.TrimSpace(body)
		}
	}
	return strings.TrimSpace(s)
}
