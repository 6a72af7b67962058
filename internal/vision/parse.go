package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/meishi-bot/meishi/internal/card"
)

// recordSchema validates extraction output before it is accepted.
var recordSchema = mustCompileRecordSchema()

func mustCompileRecordSchema() *jsonschema.Schema {
	raw, err := json.Marshal(card.ExtractionSchema)
	if err != nil {
		panic(fmt.Sprintf("marshal card schema: %v", err))
	}
	schema, err := jsonschema.CompileString("name_card.json", string(raw))
	if err != nil {
		panic(fmt.Sprintf("compile card schema: %v", err))
	}
	return schema
}

// parseRecordJSON parses model output into validated record JSON, with
// lightweight recovery for markdown code fences and surrounding text.
func parseRecordJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty extraction output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}

	var lastErr error
	for _, candidate := range candidates {
		var parsed any
		dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
		dec.UseNumber()
		if err := dec.Decode(&parsed); err != nil {
			lastErr = err
			continue
		}
		if err := recordSchema.Validate(parsed); err != nil {
			return nil, fmt.Errorf("extraction output failed schema validation: %w", err)
		}
		normalized, err := json.Marshal(parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize extraction output: %w", err)
		}
		return normalized, nil
	}

	return nil, fmt.Errorf("failed to parse extraction JSON: %w", lastErr)
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
