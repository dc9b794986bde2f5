package transcription

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/chiro/chiro/internal/clinicaltext"
)

// Indicator phrases, checked in order: provider first, then patient.
var (
	providerIndicators = []string{
		"i recommend", "let me check", "i'm going to adjust", "i am going to adjust",
		"on a scale of", "does this hurt", "take a deep breath", "turn your head",
		"lie face down", "any numbness", "we'll continue", "your x-rays", "i'd like you to",
	}
	patientIndicators = []string{
		"it hurts", "my back", "my neck", "i feel", "i've been", "the pain",
		"hurts when", "i can't", "it started", "i woke up", "my shoulder",
	}
)

// DetectSpeaker guesses the role of whoever said text. No match yields
// SpeakerUnknown.
func DetectSpeaker(text string) string {
	lower := strings.ToLower(text)
	if clinicaltext.ContainsAny(lower, providerIndicators) {
		return SpeakerProvider
	}
	if clinicaltext.ContainsAny(lower, patientIndicators) {
		return SpeakerPatient
	}
	return SpeakerUnknown
}

// MedicalVocabulary is the term list scanned in every chunk.
var MedicalVocabulary = []string{
	"subluxation", "adjustment", "manipulation", "cervical", "thoracic", "lumbar",
	"sacral", "sacroiliac", "pelvis", "vertebra", "spine", "spinal", "disc",
	"herniation", "radiculopathy", "sciatica", "stenosis", "scoliosis", "lordosis",
	"kyphosis", "spasm", "hypertonicity", "trigger point", "range of motion",
	"flexion", "extension", "rotation", "lateral bending", "palpation", "tenderness",
	"inflammation", "numbness", "tingling", "paresthesia", "reflex", "dermatome",
	"whiplash", "sprain", "strain", "headache", "migraine", "fibromyalgia",
	"tendinitis", "bursitis", "neuropathy", "traction", "ultrasound",
	"electrical stimulation", "ice", "heat", "myofascial", "orthopedic",
	"neurological", "x-ray", "mri",
}

// DetectMedicalTerms returns every vocabulary term contained in text,
// case-insensitively and regardless of word boundaries, in vocabulary
// order.
func DetectMedicalTerms(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, term := range MedicalVocabulary {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

// mergeTerms returns the sorted union of existing and added.
func mergeTerms(existing, added []string) []string {
	set := make(map[string]struct{}, len(existing)+len(added))
	for _, t := range existing {
		set[t] = struct{}{}
	}
	for _, t := range added {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TermCorrection is a transcript word that is probably a misheard
// vocabulary term.
type TermCorrection struct {
	Word       string  `json:"word"`
	Suggestion string  `json:"suggestion"`
	Similarity float64 `json:"similarity"`
}

const correctionThreshold = 0.85

// SuggestCorrections finds words that sound like a single-word vocabulary
// term (shared Double Metaphone code) and are Jaro-Winkler similar to it,
// without being the term itself. Each distinct word is reported once with
// its best match.
func SuggestCorrections(transcript string) []TermCorrection {
	type entry struct {
		term  string
		codes []string
	}
	var vocab []entry
	known := make(map[string]bool)
	for _, t := range MedicalVocabulary {
		known[t] = true
		if strings.Contains(t, " ") || len(t) < 4 {
			continue
		}
		p, s := matchr.DoubleMetaphone(t)
		vocab = append(vocab, entry{term: t, codes: nonEmpty(p, s)})
	}

	seen := make(map[string]bool)
	var out []TermCorrection
	for _, w := range clinicaltext.Words(transcript) {
		if len(w) < 4 || known[w] || seen[w] {
			continue
		}
		seen[w] = true
		p, s := matchr.DoubleMetaphone(w)
		codes := nonEmpty(p, s)

		best := TermCorrection{}
		for _, v := range vocab {
			if !overlap(codes, v.codes) {
				continue
			}
			score := matchr.JaroWinkler(w, v.term, false)
			if score >= correctionThreshold && score > best.Similarity {
				best = TermCorrection{Word: w, Suggestion: v.term, Similarity: score}
			}
		}
		if best.Suggestion != "" {
			out = append(out, best)
		}
	}
	return out
}

func nonEmpty(codes ...string) []string {
	out := codes[:0]
	for _, c := range codes {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
