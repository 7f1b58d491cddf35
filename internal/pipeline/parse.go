package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/personahq/persona-engine/internal/domain"
	llmerrors "github.com/personahq/persona-engine/internal/llm/errors"
)

// snippetLen bounds how much raw content travels inside parse errors.
const snippetLen = 160

// ParsePersona parses model output into a persona document. Strict JSON
// first; when that fails, a single balanced-brace extraction pass recovers
// near-JSON text (prose around the object, markdown fences). Both failing is
// an InvalidOutputError.
func ParsePersona(content, stage string) (*domain.GeneratedPersona, error) {
	var persona domain.GeneratedPersona
	if err := json.Unmarshal([]byte(content), &persona); err == nil {
		return &persona, nil
	}

	extracted, ok := ExtractJSONObject(content)
	if ok {
		if err := json.Unmarshal([]byte(extracted), &persona); err == nil {
			return &persona, nil
		}
	}

	return nil, &llmerrors.InvalidOutputError{
		Stage:   stage,
		Snippet: snippet(content),
		Cause:   errNotPersonaJSON,
	}
}

// validationResult is the shape of the self-validation response.
type validationResult struct {
	Accuracy        float64                  `json:"accuracy"`
	Completeness    float64                  `json:"completeness"`
	Actionability   float64                  `json:"actionability"`
	ImprovedPersona *domain.GeneratedPersona `json:"improved_persona"`
}

// Score averages the three dimensions onto the 1-10 scale.
func (v validationResult) Score() float64 {
	return (v.Accuracy + v.Completeness + v.Actionability) / 3
}

// parseValidation parses the validation response with the same strict-then-
// extract policy as ParsePersona. Scores outside [1,10] mark the result
// unusable rather than silently clamping a nonsense answer.
func parseValidation(content string) (*validationResult, error) {
	var result validationResult
	err := json.Unmarshal([]byte(content), &result)
	if err != nil {
		extracted, ok := ExtractJSONObject(content)
		if !ok {
			return nil, &llmerrors.InvalidOutputError{Stage: "validation", Snippet: snippet(content), Cause: err}
		}
		if err := json.Unmarshal([]byte(extracted), &result); err != nil {
			return nil, &llmerrors.InvalidOutputError{Stage: "validation", Snippet: snippet(content), Cause: err}
		}
	}

	for _, dim := range []float64{result.Accuracy, result.Completeness, result.Actionability} {
		if dim < 1 || dim > 10 {
			return nil, &llmerrors.InvalidOutputError{
				Stage:   "validation",
				Snippet: snippet(content),
				Cause:   errScoreOutOfRange,
			}
		}
	}
	return &result, nil
}

// ExtractJSONObject returns the first balanced {...} substring, tracking
// string literals and escapes so braces inside values don't break the scan.
// Single first-match only; this is a bounded recovery step, not a repair
// loop.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetLen {
		return s
	}
	return s[:snippetLen] + "..."
}
