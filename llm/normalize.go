// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject pulls the first complete JSON object out of a model
// completion and unmarshals it. Models are asked for bare JSON but often
// wrap it in prose or code fences; the scanner tolerates both.
func ExtractJSONObject(content string) (map[string]interface{}, error) {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					var out map[string]interface{}
					if err := json.Unmarshal([]byte(content[start:i+1]), &out); err != nil {
						return nil, fmt.Errorf("malformed JSON object in completion: %w", err)
					}
					return out, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object in completion")
}

// EstimateTokens approximates the token count of text for pre-flight cost
// estimation. Four characters per token is the usual rough cut for English
// prose; the estimate only needs to be in the right order of magnitude.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// TokenCost converts a token count into integral minor currency units from
// a minor-units-per-million-tokens rate. Division rounds up so a billable
// call never prices at zero.
func TokenCost(tokens int, centsPerMillion int64) int64 {
	if tokens <= 0 || centsPerMillion <= 0 {
		return 0
	}
	return (int64(tokens)*centsPerMillion + 999_999) / 1_000_000
}
