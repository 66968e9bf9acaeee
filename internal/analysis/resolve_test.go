package analysis

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustDecode(t *testing.T, body string) map[string]any {
	t.Helper()
	obj, err := DecodeObject([]byte(body))
	if err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return obj
}

func TestParseResultPrimaryKeys(t *testing.T) {
	r := ParseResult(mustDecode(t, `{"original_text":"hi","corrected_text":"Hi.","pronunciation_score":7.5,"grammar_score":8}`))
	if r.OriginalText.String() != "hi" || r.CorrectedText.String() != "Hi." {
		t.Fatalf("unexpected text fields: %+v", r)
	}
	if f, ok := r.PronunciationScore.Float(); !ok || f != 7.5 {
		t.Fatalf("unexpected pronunciation score %v %v", f, ok)
	}
	if f, ok := r.GrammarScore.Float(); !ok || f != 8 {
		t.Fatalf("unexpected grammar score %v %v", f, ok)
	}
	if r.Recommendation.Available() {
		t.Fatal("expected no recommendation from primary response")
	}
}

func TestParseResultAlternateKeys(t *testing.T) {
	r := ParseResult(mustDecode(t, `{"transcription":"hello there","corrected":"Hello there.","pronunciation":"6","grammar_accuracy":0}`))
	if r.OriginalText.String() != "hello there" {
		t.Fatalf("expected transcription fallback, got %q", r.OriginalText.String())
	}
	if r.CorrectedText.String() != "Hello there." {
		t.Fatalf("expected corrected fallback, got %q", r.CorrectedText.String())
	}
	if f, ok := r.PronunciationScore.Float(); !ok || f != 6 {
		t.Fatalf("expected numeric string score, got %v %v", f, ok)
	}
	if f, ok := r.GrammarScore.Float(); !ok || f != 0 {
		t.Fatalf("expected zero grammar score kept, got %v %v", f, ok)
	}
}

func TestParseResultMissingFieldsAreUnavailable(t *testing.T) {
	r := ParseResult(mustDecode(t, `{"status":"ok","original_text":"","transcription":null}`))
	for name, v := range map[string]Value{
		"original":      r.OriginalText,
		"corrected":     r.CorrectedText,
		"pronunciation": r.PronunciationScore,
		"grammar":       r.GrammarScore,
	} {
		if v.Available() {
			t.Fatalf("expected %s unavailable", name)
		}
		if v.String() != Unavailable {
			t.Fatalf("expected %s to render the unavailable marker, got %q", name, v.String())
		}
	}
}

func TestParseResultPrefersFirstKey(t *testing.T) {
	r := ParseResult(mustDecode(t, `{"transcription":"second","original_text":"first"}`))
	if r.OriginalText.String() != "first" {
		t.Fatalf("expected first accepted key to win, got %q", r.OriginalText.String())
	}
}

func TestDecodeObjectRejectsNonObjects(t *testing.T) {
	for _, body := range []string{``, `null`, `[1,2]`, `"text"`, `<html>`} {
		if _, err := DecodeObject([]byte(body)); !errors.Is(err, ErrNotObject) {
			t.Fatalf("expected ErrNotObject for %q, got %v", body, err)
		}
	}
}

func TestResolveRecommendation(t *testing.T) {
	cases := []struct {
		body string
		want string
		ok   bool
	}{
		{`{"recommendation":"Practice past tense"}`, "Practice past tense", true},
		{`{"message":"Review articles"}`, "Review articles", true},
		{`{"recommendation":"","message":"Use message"}`, "Use message", true},
		{`{"lesson":"irregular verbs"}`, `{"lesson":"irregular verbs"}`, true},
		{`Try shadowing exercises`, "Try shadowing exercises", true},
		{`"quoted lesson"`, "quoted lesson", true},
		{``, "", false},
		{`null`, "", false},
	}
	for _, tc := range cases {
		v := ResolveRecommendation([]byte(tc.body))
		if v.Available() != tc.ok {
			t.Fatalf("%q: expected available=%v", tc.body, tc.ok)
		}
		if tc.ok && v.String() != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.body, tc.want, v.String())
		}
	}
}

func TestResultJSON(t *testing.T) {
	r := ParseResult(mustDecode(t, `{"original_text":"hi","grammar_score":8}`)).WithRecommendation(TextValue("Practice past tense"))
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"original_text":"hi","corrected_text":null,"pronunciation_score":null,"grammar_score":8,"recommendation":"Practice past tense"}`
	if string(data) != want {
		t.Fatalf("unexpected json:\n got %s\nwant %s", data, want)
	}

	var back Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.CorrectedText.Available() || back.GrammarScore.String() != "8" {
		t.Fatalf("unexpected decoded result: %+v", back)
	}
}

func TestValueFloat(t *testing.T) {
	cases := map[string]struct {
		v    Value
		want float64
		ok   bool
	}{
		"number":   {NumberValue(9.25), 9.25, true},
		"fraction": {TextValue("7/10"), 7, true},
		"percent":  {TextValue("85%"), 85, true},
		"words":    {TextValue("good"), 0, false},
		"missing":  {Value{}, 0, false},
	}
	for name, tc := range cases {
		got, ok := tc.v.Float()
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: expected %v/%v, got %v/%v", name, tc.want, tc.ok, got, ok)
		}
	}
}
