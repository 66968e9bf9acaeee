package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Accepted response keys per logical field, in lookup order.
var (
	OriginalTextKeys       = []string{"original_text", "transcription"}
	CorrectedTextKeys      = []string{"corrected_text", "corrected"}
	PronunciationScoreKeys = []string{"pronunciation_score", "pronunciation"}
	GrammarScoreKeys       = []string{"grammar_score", "grammar_accuracy"}
	RecommendationKeys     = []string{"recommendation", "message"}
)

// ErrNotObject is returned when a response body is not a JSON object.
var ErrNotObject = errors.New("response body is not a JSON object")

// DecodeObject parses body as a JSON object, preserving number literals.
func DecodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	return obj, nil
}

// ResolveText returns the first key holding a non-empty value. Empty strings
// count as missing.
func ResolveText(obj map[string]any, keys []string) Value {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok || raw == nil {
			continue
		}
		if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return Value{raw: raw, present: true}
	}
	return Value{}
}

// ResolveScore returns the first key holding a non-null value. Zero is a
// valid score.
func ResolveScore(obj map[string]any, keys []string) Value {
	for _, k := range keys {
		if raw, ok := obj[k]; ok && raw != nil {
			return Value{raw: raw, present: true}
		}
	}
	return Value{}
}

// ParseResult resolves every analysis field from a primary response object.
// Missing fields become unavailable; it never fails.
func ParseResult(obj map[string]any) Result {
	return Result{
		OriginalText:       ResolveText(obj, OriginalTextKeys),
		CorrectedText:      ResolveText(obj, CorrectedTextKeys),
		PronunciationScore: ResolveScore(obj, PronunciationScoreKeys),
		GrammarScore:       ResolveScore(obj, GrammarScoreKeys),
	}
}

// ResolveRecommendation extracts a recommendation from a secondary response.
// When no accepted key matches, the whole body is used verbatim.
func ResolveRecommendation(body []byte) Value {
	if obj, err := DecodeObject(body); err == nil {
		if v := ResolveText(obj, RecommendationKeys); v.Available() {
			return v
		}
	}
	text := strings.TrimSpace(string(body))
	if unquoted, ok := unquoteJSONString(text); ok {
		text = strings.TrimSpace(unquoted)
	}
	if text == "" || text == "null" {
		return Value{}
	}
	return TextValue(text)
}

func unquoteJSONString(s string) (string, bool) {
	if len(s) < 2 || s[0] != '"' {
		return "", false
	}
	var out string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return "", false
	}
	return out, true
}
