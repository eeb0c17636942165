package llm

import (
	"encoding/json"
	"strings"

	"github.com/TobiSchelling/Deadline/internal/apperr"
)

// ParseJSONObject extracts the JSON object from an LLM reply. Code fences
// are stripped and anything outside the first '{' and last '}' is dropped.
// Failures are Extraction errors.
func ParseJSONObject(text string) (map[string]any, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return nil, apperr.New(apperr.Extraction, "empty LLM response")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, apperr.New(apperr.Extraction, "no JSON object in LLM response")
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "invalid JSON in LLM response")
	}
	return result, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		text = text[4:]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
