package inference

import (
	"encoding/json"
	"strings"
)

// NoResponseText is shown when a well-formed body carries no usable text.
const NoResponseText = "No response received."

// MalformedBodyError reports a response body that is not valid JSON.
type MalformedBodyError struct {
	Raw string
}

func (e *MalformedBodyError) Error() string {
	return "Invalid JSON: " + e.Raw
}

// extractionRule pairs a shape check with the accessor for that shape.
type extractionRule struct {
	match   func(doc map[string]any) bool
	extract func(doc map[string]any) string
}

// extractionChain is tried in order; the first rule that matches and yields
// non-blank text wins.
var extractionChain = []extractionRule{
	{
		match:   hasFirstChoiceContent,
		extract: firstChoiceContent,
	},
	{
		match: func(doc map[string]any) bool {
			_, ok := doc["generated_text"].(string)
			return ok
		},
		extract: func(doc map[string]any) string {
			s, _ := doc["generated_text"].(string)
			return s
		},
	},
}

// ParseResponse decodes a completions response body and extracts display
// text. Bodies that decode to something other than an object, or objects
// without a usable field, yield NoResponseText.
func ParseResponse(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", &MalformedBodyError{Raw: string(raw)}
	}
	return Extract(doc), nil
}

// Extract runs the extraction chain over a decoded JSON document.
func Extract(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return NoResponseText
	}
	for _, rule := range extractionChain {
		if !rule.match(obj) {
			continue
		}
		if text := strings.TrimSpace(rule.extract(obj)); text != "" {
			return text
		}
	}
	return NoResponseText
}

func hasFirstChoiceContent(doc map[string]any) bool {
	_, ok := firstChoiceContentValue(doc)
	return ok
}

func firstChoiceContent(doc map[string]any) string {
	s, _ := firstChoiceContentValue(doc)
	return s
}

func firstChoiceContentValue(doc map[string]any) (string, bool) {
	choices, ok := doc["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"].(string)
	return content, ok
}
