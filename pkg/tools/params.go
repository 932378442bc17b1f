package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseActionInput parses a raw Action Input string from a text-mode
// model response into structured parameters.
//
// Parsing cascade (first successful parse wins):
//  1. JSON object → map[string]any
//  2. JSON non-object (string, number, array) → {"input": value}
//  3. YAML with complex structures (arrays, nested maps) → map[string]any
//  4. Key-value pairs (key: value or key=value, comma/newline separated)
//  5. Single raw string → {"input": string}
//
// Empty input returns an empty map (for no-parameter tools).
func ParseActionInput(input string) map[string]any {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}
	}

	if result, ok := tryParseJSON(input); ok {
		return result
	}
	if result, ok := tryParseYAML(input); ok {
		return result
	}
	if result, ok := tryParseKeyValue(input); ok {
		return result
	}
	return map[string]any{"input": input}
}

// tryParseJSON attempts to parse input as JSON. Non-object values are
// wrapped as {"input": value}.
func tryParseJSON(input string) (map[string]any, bool) {
	b := input[0]
	isJSONStart := b == '{' || b == '[' || b == '"' ||
		(b >= '0' && b <= '9') || b == '-' ||
		b == 't' || b == 'f' || b == 'n'
	if !isJSONStart {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}
	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": raw}, true
}

// tryParseYAML only accepts maps with complex values (arrays, nested
// maps). Plain "key: value" lines are handled by the key-value parser
// to avoid false positives on free text that happens to look like YAML.
func tryParseYAML(input string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(input), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}
	for _, v := range result {
		switch v.(type) {
		case []any, map[string]any:
			return result, true
		}
	}
	return nil, false
}

// tryParseKeyValue parses "key: value" or "key=value" pairs separated
// by commas or newlines. If any part fails, the whole input is rejected
// and falls through to the raw-string fallback.
func tryParseKeyValue(input string) (map[string]any, bool) {
	normalized := strings.ReplaceAll(input, "\n", ",")
	parts := strings.Split(normalized, ",")

	result := make(map[string]any)
	for _, p := range parts {
		part := strings.TrimSpace(p)
		if part == "" {
			continue
		}
		key, value, ok := parseKeyValuePair(part)
		if !ok {
			return nil, false
		}
		result[key] = coerceValue(value)
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

func parseKeyValuePair(part string) (key, value string, ok bool) {
	if idx := strings.Index(part, ":"); idx > 0 {
		k := strings.TrimSpace(part[:idx])
		v := strings.TrimSpace(part[idx+1:])
		if isValidKey(k) {
			return k, v, true
		}
	}
	if idx := strings.Index(part, "="); idx > 0 {
		k := strings.TrimSpace(part[:idx])
		v := strings.TrimSpace(part[idx+1:])
		if isValidKey(k) {
			return k, v, true
		}
	}
	return "", "", false
}

func isValidKey(k string) bool {
	return k != "" && !strings.Contains(k, " ")
}

// coerceValue converts string values to appropriate Go types.
func coerceValue(s string) any {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	if lower == "true" {
		return true
	}
	if lower == "false" {
		return false
	}
	if lower == "null" || lower == "none" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	// Reject NaN/Inf — not valid in JSON
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}
	return s
}
