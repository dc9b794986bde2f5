package clinicaltext

import (
	"reflect"
	"strings"
	"testing"
)

var regionKeywords = map[string][]string{
	"cervical": {"cervical", "neck"},
	"thoracic": {"thoracic", "mid back"},
	"lumbar":   {"lumbar", "low back"},
	"sacral":   {"sacral", "sacroiliac"},
	"pelvic":   {"pelvic"},
}

func TestSpinalRegions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"keywords", "Adjusted cervical and lumbar spine.", []string{"cervical", "lumbar"}},
		{"levels", "Subluxation at C5 and L4-L5, T7 fixation.", []string{"cervical", "lumbar", "thoracic"}},
		{"mixed dedupe", "Neck pain with C2 restriction.", []string{"cervical"}},
		{"all five", "cervical thoracic lumbar sacral pelvic", []string{"cervical", "lumbar", "pelvic", "sacral", "thoracic"}},
		{"none", "Patient tolerated treatment well.", []string{}},
		{"not a level", "Patient took 2 tablets, T20 form.", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpinalRegions(tt.text, regionKeywords, 5)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SpinalRegions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpinalRegions_Cap(t *testing.T) {
	got := SpinalRegions("cervical thoracic lumbar", regionKeywords, 2)
	if len(got) != 2 {
		t.Errorf("expected cap at 2, got %v", got)
	}
}

func TestJaccard(t *testing.T) {
	if got := Jaccard("a b c", "a b c"); got != 1 {
		t.Errorf("identical = %v", got)
	}
	if got := Jaccard("a b", "c d"); got != 0 {
		t.Errorf("disjoint = %v", got)
	}
	if got := Jaccard("", ""); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := Jaccard("a b c d", "a b"); got != 0.5 {
		t.Errorf("half = %v", got)
	}
}

func TestJaccard_ExactBoundary(t *testing.T) {
	a, b := boundaryPair()
	if got := Jaccard(a, b); got != 0.85 {
		t.Fatalf("expected exactly 0.85, got %v", got)
	}
}

// boundaryPair returns texts sharing 17 of 20 distinct words.
func boundaryPair() (string, string) {
	shared := make([]string, 17)
	for i := range shared {
		shared[i] = "w" + strings.Repeat("x", i+1)
	}
	a := strings.Join(append(append([]string{}, shared...), "onlya1", "onlya2"), " ")
	b := strings.Join(append(append([]string{}, shared...), "onlyb1"), " ")
	return a, b
}

func TestSentences(t *testing.T) {
	got := Sentences("Patient improving. ROM is full!  Continue care?  ok")
	want := []string{"Patient improving.", "ROM is full!", "Continue care?", "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sentences() = %q, want %q", got, want)
	}
	if Sentences("   ") != nil {
		t.Error("expected nil for blank text")
	}
}

func TestCountMatches(t *testing.T) {
	lower := "unable to sit; difficulty sleeping; unable to work"
	if got := CountMatches(lower, []string{"unable to", "difficulty", "adl", "unable to"}); got != 2 {
		t.Errorf("CountMatches() = %d, want 2", got)
	}
}

func TestWords(t *testing.T) {
	got := Words("Patient's L4-L5 pain, 7/10.")
	want := []string{"patient's", "l4", "l5", "pain", "7", "10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words() = %q, want %q", got, want)
	}
}
