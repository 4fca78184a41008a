package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONString decodes a model response into a JSON object. Models often
// wrap JSON in markdown code fences even when asked not to, so fences are
// stripped before decoding.
func ParseJSONString(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return obj, nil
}
