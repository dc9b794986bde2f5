package coding

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chiro/chiro/internal/clinicaltext"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/rules"
)

const (
	modelWeight   = 0.7
	historyWeight = 0.3
)

var (
	icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)
	cptPattern   = regexp.MustCompile(`^([0-9]{4}[0-9FTU]|[A-V][0-9]{4})$`)
)

// ValidFormat reports whether code is shaped like a code of type t.
func ValidFormat(t CodeType, code string) bool {
	switch t {
	case CodeTypeICD10:
		return icd10Pattern.MatchString(code)
	case CodeTypeCPT:
		return cptPattern.MatchString(code)
	case CodeTypeModifier:
		return len(code) == 2
	}
	return false
}

// Ranker turns model code candidates into scored suggestions. It is pure:
// the same inputs always produce the same suggestions.
type Ranker struct {
	rules *rules.Ruleset
}

func NewRanker(rs *rules.Ruleset) *Ranker {
	if rs == nil {
		rs = rules.Default()
	}
	return &Ranker{rules: rs}
}

// Rank scores every candidate against soapText. history maps a code to the
// provider's past decisions on it. Ranks follow the model's ordering,
// counted separately for ICD-10 and CPT.
func (r *Ranker) Rank(c *ai.CodeCandidates, soapText string, history map[string]Acceptance, includeModifiers bool) []*Suggestion {
	if c == nil {
		return nil
	}
	lower := strings.ToLower(soapText)
	regions := clinicaltext.SpinalRegions(soapText, r.rules.RegionKeywords, r.rules.MaxRegions)

	out := make([]*Suggestion, 0, len(c.ICD10)+len(c.CPT))
	for i, cand := range c.ICD10 {
		s := r.base(CodeTypeICD10, cand, i+1, history)
		if alts, ok := r.rules.SpecificityAlternatives[s.Code]; ok {
			s.SpecificityOK = false
			s.Alternatives = append([]string(nil), alts...)
		}
		r.acuityRisk(s, lower)
		s.SupportingText = r.SupportingText(s.Code, soapText)
		out = append(out, s)
	}
	for i, cand := range c.CPT {
		s := r.base(CodeTypeCPT, cand, i+1, history)
		switch {
		case r.rules.IsCMT(s.Code):
			r.regionRisk(s, len(regions))
		case r.rules.IsHighComplexityEM(s.Code):
			r.complexityRisk(s, soapText, lower)
		}
		if includeModifiers {
			s.Modifiers = r.Modifiers(s.Code, lower)
		}
		s.SupportingText = r.SupportingText(s.Code, soapText)
		out = append(out, s)
	}
	return out
}

func (r *Ranker) base(t CodeType, cand ai.CodeCandidate, rank int, history map[string]Acceptance) *Suggestion {
	code := strings.ToUpper(strings.TrimSpace(cand.Code))
	return &Suggestion{
		CodeType:        t,
		Code:            code,
		Description:     cand.Description,
		Reasoning:       cand.Rationale,
		Confidence:      BlendConfidence(cand.Confidence, history[code]),
		ModelConfidence: cand.Confidence,
		Rank:            rank,
		IsChiroCommon:   cand.IsChiroCommon,
		IsValid:         ValidFormat(t, code),
		SpecificityOK:   true,
		Alternatives:    []string{},
		Modifiers:       []string{},
		AuditRisk:       RiskLow,
		Status:          StatusPending,
	}
}

// BlendConfidence mixes the model's confidence with the provider's
// acceptance rate for the code. Without history the model's value stands.
func BlendConfidence(model float64, h Acceptance) float64 {
	rate, ok := h.Rate()
	if !ok {
		return model
	}
	return modelWeight*model + historyWeight*rate
}

// regionRisk compares the documented region count with what the CMT code
// requires.
func (r *Ranker) regionRisk(s *Suggestion, documented int) {
	want := r.rules.CMTRegions[s.Code]
	switch {
	case documented < want.Min:
		s.UpcodingRisk = true
		s.AuditRisk = RiskHigh
		s.RiskReason = fmt.Sprintf("Only %d regions documented. %s requires %d.", documented, s.Code, want.Min)
	case documented > want.Max:
		s.DowncodingRisk = true
		s.RiskReason = fmt.Sprintf("%d regions documented; %s covers at most %d.", documented, s.Code, want.Max)
	}
}

func (r *Ranker) complexityRisk(s *Suggestion, text, lower string) {
	if clinicaltext.WordCount(text) >= r.rules.HighEMMinWords {
		return
	}
	if clinicaltext.ContainsAny(lower, r.rules.ComplexityKeywords) {
		return
	}
	s.UpcodingRisk = true
	s.AuditRisk = RiskHigh
	s.RiskReason = fmt.Sprintf("%s billed with %d words of documentation and no complexity indicators.",
		s.Code, clinicaltext.WordCount(text))
}

// acuityRisk flags a diagnosis whose description claims an acuity the note
// never states.
func (r *Ranker) acuityRisk(s *Suggestion, lower string) {
	desc := strings.ToLower(s.Description)
	for _, acuity := range []string{"acute", "chronic"} {
		if strings.Contains(desc, acuity) && !strings.Contains(lower, acuity) {
			s.UpcodingRisk = true
			if s.AuditRisk == RiskLow {
				s.AuditRisk = RiskMedium
			}
			s.RiskReason = fmt.Sprintf("%s is coded as %s but the note does not document it.", s.Code, acuity)
			return
		}
	}
}

// Modifiers suggests CPT modifiers from the note text. lower must be
// lower-cased.
func (r *Ranker) Modifiers(code, lower string) []string {
	mods := []string{}
	if r.rules.IsBilateral(code) && clinicaltext.ContainsAny(lower, []string{"bilateral", "both sides"}) {
		mods = append(mods, ModifierBilateral)
	}
	if clinicaltext.ContainsAny(lower, []string{"separate", "distinct"}) {
		mods = append(mods, ModifierDistinct)
	}
	if r.rules.TherapyCodePrefix != "" && strings.HasPrefix(code, r.rules.TherapyCodePrefix) {
		mods = append(mods, ModifierTherapy)
	}
	if r.rules.IsCMT(code) {
		mods = append(mods, ModifierActive)
	}
	return mods
}

// SupportingText returns the first sentence of text that mentions one of
// the code's keywords, cut to the configured length. Codes without a
// keyword entry, or without a matching sentence, have none.
func (r *Ranker) SupportingText(code, text string) *string {
	keywords, ok := r.rules.CodeKeywords[code]
	if !ok {
		return nil
	}
	for _, sentence := range clinicaltext.Sentences(text) {
		if !clinicaltext.ContainsAny(strings.ToLower(sentence), keywords) {
			continue
		}
		if max := r.rules.SupportingTextMax; max > 0 {
			if runes := []rune(sentence); len(runes) > max {
				sentence = string(runes[:max])
			}
		}
		return &sentence
	}
	return nil
}
