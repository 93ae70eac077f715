package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
)

// stripMarkdownFences extracts code from markdown code blocks, returning
// the longest block found. Line-based so backticks inside template
// literals don't prematurely close a block; a closing fence must be a
// line whose stripped content is exactly "```".
func stripMarkdownFences(text string) string {
	var blocks []string
	var current []string
	inBlock := false

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if !inBlock {
			if strings.HasPrefix(stripped, "```") {
				inBlock = true
				current = nil
			}
			continue
		}
		if stripped == "```" {
			blocks = append(blocks, strings.Join(current, "\n"))
			inBlock = false
			current = nil
			continue
		}
		current = append(current, line)
	}

	if len(blocks) > 0 {
		longest := blocks[0]
		for _, b := range blocks[1:] {
			if len(b) > len(longest) {
				longest = b
			}
		}
		return strings.TrimSpace(longest)
	}
	return strings.TrimSpace(text)
}

// jsonField pulls one string field from a JSON object, tolerating
// surrounding prose: fast path is a direct field get, fallback is
// balanced-brace extraction.
func jsonField(text, field string) (string, bool) {
	if value, err := jsonparser.GetString([]byte(text), field); err == nil {
		return value, true
	}
	if candidate := extractBalancedObject(text, field); candidate != nil {
		if value, ok := candidate[field].(string); ok {
			return value, true
		}
	}
	return "", false
}

// extractBalancedObject finds the first balanced {...} in text that
// contains the given key and parses it. Balanced-brace matching handles
// nested braces inside string values that a regex would trip over.
func extractBalancedObject(text, requiredKey string) map[string]any {
	depth := 0
	start := -1
	for i, ch := range text {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				if strings.Contains(candidate, `"`+requiredKey+`"`) {
					var parsed map[string]any
					if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
						if _, ok := parsed[requiredKey]; ok {
							return parsed
						}
					}
				}
				start = -1
			} else if depth < 0 {
				// Stray closing brace; reset so it doesn't poison the
				// rest of the scan.
				depth = 0
				start = -1
			}
		}
	}
	return nil
}

// jsonUnmarshalStrings decodes a JSON array of strings.
func jsonUnmarshalStrings(raw string, out *[]string) error {
	return json.Unmarshal([]byte(raw), out)
}

// parseStringMap decodes a JSON object of string values, stripping
// markdown fences first. Non-string values are stringified.
func parseStringMap(text string) (map[string]string, bool) {
	raw := stripMarkdownFences(text)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, false
	}
	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch value := v.(type) {
		case string:
			out[k] = value
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				continue
			}
			out[k] = strings.Trim(string(encoded), `"`)
		}
	}
	return out, true
}
