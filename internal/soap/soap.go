// Package soap holds the four-section clinical note shape shared by draft
// generation, coding, compliance and preference learning.
package soap

import "strings"

type Section string

const (
	Subjective Section = "subjective"
	Objective  Section = "objective"
	Assessment Section = "assessment"
	Plan       Section = "plan"
)

// Order is the canonical section order.
var Order = []Section{Subjective, Objective, Assessment, Plan}

func (s Section) Valid() bool {
	switch s {
	case Subjective, Objective, Assessment, Plan:
		return true
	}
	return false
}

// Sections is a SOAP note. Each section is independently nullable.
type Sections struct {
	Subjective *string `json:"subjective"`
	Objective  *string `json:"objective"`
	Assessment *string `json:"assessment"`
	Plan       *string `json:"plan"`
}

// Get returns the section text, or "" when absent.
func (n Sections) Get(s Section) string {
	if p := n.ptr(s); p != nil && *p != nil {
		return **p
	}
	return ""
}

// Has reports whether the section is present (possibly empty).
func (n Sections) Has(s Section) bool {
	p := n.ptr(s)
	return p != nil && *p != nil
}

// Set replaces the section text.
func (n *Sections) Set(s Section, text string) {
	if p := n.ptr(s); p != nil {
		v := text
		*p = &v
	}
}

func (n *Sections) ptr(s Section) **string {
	switch s {
	case Subjective:
		return &n.Subjective
	case Objective:
		return &n.Objective
	case Assessment:
		return &n.Assessment
	case Plan:
		return &n.Plan
	}
	return nil
}

// Combined joins all present sections with a blank line, in canonical order.
func (n Sections) Combined() string {
	parts := make([]string, 0, 4)
	for _, s := range Order {
		if v := n.Get(s); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Labeled renders the note with section headings, the format handed to the
// coding model.
func (n Sections) Labeled() string {
	var b strings.Builder
	for _, s := range Order {
		v := n.Get(s)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.ToUpper(string(s)))
		b.WriteString(":\n")
		b.WriteString(v)
	}
	return b.String()
}

// Ptr returns a pointer to a copy of s.
func Ptr(s string) *string { return &s }
