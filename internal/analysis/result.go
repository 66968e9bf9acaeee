package analysis

// Result is the composed analysis shown to the user. The four analysis
// fields are fixed at creation; only Recommendation is added afterwards.
type Result struct {
	OriginalText       Value `json:"original_text"`
	CorrectedText      Value `json:"corrected_text"`
	PronunciationScore Value `json:"pronunciation_score"`
	GrammarScore       Value `json:"grammar_score"`
	Recommendation     Value `json:"recommendation"`
}

// WithRecommendation returns a copy of r carrying rec.
func (r Result) WithRecommendation(rec Value) Result {
	out := r
	out.Recommendation = rec
	return out
}
