package compliance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chiro/chiro/internal/clinicaltext"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/rules"
	"github.com/chiro/chiro/internal/soap"
)

// Engine runs the deterministic documentation checks. It holds no state
// beyond its rule tables and is safe for concurrent use.
type Engine struct {
	rules *rules.Ruleset
}

func NewEngine(rs *rules.Ruleset) *Engine {
	if rs == nil {
		rs = rules.Default()
	}
	return &Engine{rules: rs}
}

// Input is one note under review.
type Input struct {
	Sections      soap.Sections
	EncounterType rules.EncounterType
	AcceptedCodes []string
	PriorNotes    []soap.Sections

	// PayerType is empty when payer rules are not requested.
	PayerType rules.PayerType
}

// Evaluate runs every deterministic check and returns their issues in
// check order.
func (e *Engine) Evaluate(in Input) []*Issue {
	var issues []*Issue
	issues = append(issues, e.RequiredElements(in.Sections, in.EncounterType)...)
	issues = append(issues, e.MedicalNecessity(in.Sections, in.EncounterType)...)
	issues = append(issues, e.PayerRequirements(in.Sections, in.PayerType)...)
	if is := e.ClonedNote(in.Sections, in.PriorNotes); is != nil {
		issues = append(issues, is)
	}
	issues = append(issues, e.CodeDocumentation(in.Sections, in.AcceptedCodes)...)
	return issues
}

func newIssue(t IssueType, sev Severity, title, desc string) *Issue {
	return &Issue{
		Type:        t,
		Severity:    sev,
		Title:       title,
		Description: desc,
		DenialRisk:  denialRisk[sev],
	}
}

func (i *Issue) in(s soap.Section) *Issue {
	i.Section = &s
	return i
}

func (i *Issue) fix(text string) *Issue {
	i.SuggestedFix = &text
	return i
}

func (i *Issue) autoFix(text string) *Issue {
	i.AutoFixable = true
	i.SuggestedText = &text
	return i
}

func (e *Engine) matches(lower, element string) bool {
	return clinicaltext.ContainsAny(lower, e.rules.Variants(element))
}

// RequiredElements flags absent or too-short sections and, for the others,
// the encounter type's required elements that no variant documents.
func (e *Engine) RequiredElements(n soap.Sections, t rules.EncounterType) []*Issue {
	rule := e.rules.Encounter(t)
	w := e.rules.AuditWeights.MissingElement
	var issues []*Issue
	for _, s := range soap.Order {
		text := strings.TrimSpace(n.Get(s))
		if len(text) < e.rules.MinSectionChars {
			sev := SeverityWarning
			if s == soap.Assessment || s == soap.Plan {
				sev = SeverityError
			}
			is := newIssue(IssueMissingSection, sev, "Missing "+string(s)+" section",
				fmt.Sprintf("The %s section is missing or has fewer than %d characters.", s, e.rules.MinSectionChars)).
				in(s).fix("Document the " + string(s) + " findings for this visit.")
			if sev == SeverityError {
				is.AuditRiskImpact = w
			}
			issues = append(issues, is)
			continue
		}
		lower := strings.ToLower(text)
		for _, el := range rule.Sections[s] {
			if e.matches(lower, el) {
				continue
			}
			sev := SeverityWarning
			if rule.IsCritical(el) {
				sev = SeverityError
			}
			is := newIssue(IssueMissingElement, sev, "Missing "+el,
				fmt.Sprintf("%s encounters require %s in the %s section.", t, el, s)).
				in(s).fix("Add " + el + " to the " + string(s) + " section.")
			if sev == SeverityError {
				is.AuditRiskImpact = w
			}
			issues = append(issues, is)
		}
	}
	return issues
}

// MedicalNecessity scans the whole note for necessity language and, except
// at discharge, for treatment goals. An empty note yields nothing; the
// section check already covers it.
func (e *Engine) MedicalNecessity(n soap.Sections, t rules.EncounterType) []*Issue {
	lower := strings.ToLower(n.Combined())
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	var issues []*Issue
	switch clinicaltext.CountMatches(lower, e.rules.NecessityKeywords) {
	case 0:
		is := newIssue(IssueMedicalNecessity, SeverityCritical, "Medical necessity not documented",
			"No functional limitation or medical necessity language was found in the note.").
			in(soap.Assessment).fix("State the functional limitations that make treatment necessary.").
			autoFix(e.rules.NecessityFix)
		is.AuditRiskImpact = e.rules.AuditWeights.MedicalNecessity
		issues = append(issues, is)
	case 1:
		issues = append(issues, newIssue(IssueMedicalNecessity, SeverityWarning, "Weak medical necessity",
			"Only one medical necessity indicator was found in the note.").
			in(soap.Assessment).fix("Describe how the condition limits the patient's daily activities."))
	}
	if t != rules.EncounterDischarge && !clinicaltext.ContainsAny(lower, e.rules.GoalKeywords) {
		is := newIssue(IssueMissingGoals, SeverityError, "Treatment goals not documented",
			"The note does not state measurable treatment goals.").
			in(soap.Plan).fix("Add measurable functional goals to the plan.").
			autoFix(e.rules.GoalsFix)
		is.AuditRiskImpact = e.rules.AuditWeights.MissingElement
		issues = append(issues, is)
	}
	return issues
}

// PayerRequirements checks the payer's documentation table. Unknown or empty
// payers have no requirements.
func (e *Engine) PayerRequirements(n soap.Sections, p rules.PayerType) []*Issue {
	if p == "" {
		return nil
	}
	rule, ok := e.rules.Payers[p]
	if !ok {
		return nil
	}
	lower := strings.ToLower(n.Combined())
	var issues []*Issue
	for _, el := range rule.Required {
		if e.matches(lower, el) {
			continue
		}
		sev := SeverityWarning
		if rule.IsCritical(el) {
			sev = SeverityCritical
		}
		is := newIssue(IssuePayerRequirement, sev, fmt.Sprintf("%s requires %s", p, el),
			fmt.Sprintf("%s claims require documentation of %s.", p, el)).
			fix("Document " + el + " to meet " + string(p) + " requirements.")
		if sev == SeverityCritical {
			is.AuditRiskImpact = e.rules.AuditWeights.PayerCritical
		}
		issues = append(issues, is)
	}
	return issues
}

// ClonedNote compares the objective section with the most recent prior
// notes and flags the first one more similar than the threshold.
func (e *Engine) ClonedNote(n soap.Sections, priors []soap.Sections) *Issue {
	cfg := e.rules.ClonedNote
	objective := strings.TrimSpace(n.Get(soap.Objective))
	if len(objective) <= cfg.MinChars {
		return nil
	}
	if cfg.PriorNotes > 0 && len(priors) > cfg.PriorNotes {
		priors = priors[:cfg.PriorNotes]
	}
	for _, prior := range priors {
		sim := clinicaltext.Jaccard(objective, prior.Get(soap.Objective))
		if sim <= cfg.Threshold {
			continue
		}
		is := newIssue(IssueClonedNote, SeverityWarning, "Possible cloned documentation",
			fmt.Sprintf("The objective findings are %.0f%% identical to a prior visit.", sim*100)).
			in(soap.Objective).fix("Document the findings specific to this visit.")
		is.AuditRiskImpact = e.rules.AuditWeights.ClonedNote
		return is
	}
	return nil
}

// CodeDocumentation verifies that the note supports the accepted codes:
// documented regions for CMT codes, and length plus history, exam and
// decision-making content for high-level E/M codes.
func (e *Engine) CodeDocumentation(n soap.Sections, codes []string) []*Issue {
	if len(codes) == 0 {
		return nil
	}
	text := n.Combined()
	lower := strings.ToLower(text)
	w := e.rules.AuditWeights.CodeComplexity
	var issues []*Issue
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		switch {
		case e.rules.IsCMT(code):
			want := e.rules.CMTRegions[code].Min
			got := len(clinicaltext.SpinalRegions(text, e.rules.RegionKeywords, e.rules.MaxRegions))
			if got >= want {
				continue
			}
			is := newIssue(IssueCodeDocumentation, SeverityError, "Insufficient regions for "+code,
				fmt.Sprintf("Only %d regions documented. %s requires %d.", got, code, want)).
				in(soap.Objective).fix("Document each treated spinal region or bill a lower CMT level.")
			is.AuditRiskImpact = w
			issues = append(issues, is)
		case e.rules.IsHighComplexityEM(code):
			var missing []string
			groups := make([]string, 0, len(e.rules.EMKeywordGroups))
			for g := range e.rules.EMKeywordGroups {
				groups = append(groups, g)
			}
			sort.Strings(groups)
			for _, g := range groups {
				if !clinicaltext.ContainsAny(lower, e.rules.EMKeywordGroups[g]) {
					missing = append(missing, strings.ReplaceAll(g, "_", " "))
				}
			}
			words := clinicaltext.WordCount(text)
			if words >= e.rules.HighEMMinWords && len(missing) == 0 {
				continue
			}
			desc := fmt.Sprintf("%s documentation has %d words (minimum %d).", code, words, e.rules.HighEMMinWords)
			if len(missing) > 0 {
				desc += " Missing: " + strings.Join(missing, ", ") + "."
			}
			is := newIssue(IssueCodeDocumentation, SeverityWarning, "Documentation may not support "+code, desc).
				fix("Expand history, examination and medical decision making, or select a lower E/M level.")
			is.AuditRiskImpact = w
			issues = append(issues, is)
		}
	}
	return issues
}

// FromFinding converts a model finding into an issue, normalizing its
// severity. Sections the model names outside the SOAP set are dropped.
func FromFinding(f ai.ComplianceFinding) *Issue {
	is := newIssue(IssueAIFinding, NormalizeSeverity(f.Severity), "AI compliance review", f.Message)
	if s := soap.Section(strings.ToLower(strings.TrimSpace(f.Section))); s.Valid() {
		is.in(s)
	}
	if f.Suggestion != "" {
		is.fix(f.Suggestion)
	}
	return is
}

// NormalizeSeverity maps free-text model severities onto the taxonomy.
// The model's "critical" becomes ERROR; only rule checks raise CRITICAL.
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "critical":
		return SeverityError
	case "warning":
		return SeverityWarning
	}
	return SeverityInfo
}

// Score starts at 100 and deducts per issue by severity, never below 0.
func Score(issues []*Issue) int {
	score := 100
	for _, is := range issues {
		score -= penalty[is.Severity]
	}
	if score < 0 {
		return 0
	}
	return score
}

// AuditRisk sums the issues' audit-risk impact, capped at 100.
func AuditRisk(issues []*Issue) int {
	risk := 0
	for _, is := range issues {
		risk += is.AuditRiskImpact
	}
	if risk > 100 {
		return 100
	}
	return risk
}

type counts struct {
	critical, errors, warnings, infos int
}

func count(issues []*Issue) counts {
	var c counts
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			c.critical++
		case SeverityError:
			c.errors++
		case SeverityWarning:
			c.warnings++
		default:
			c.infos++
		}
	}
	return c
}

// blockThreshold is the audit risk above which an ERROR blocks billing.
const blockThreshold = 50

// BillingBlock reports whether billing must wait, and why: any CRITICAL
// issue blocks, and so does an ERROR once audit risk exceeds 50.
func BillingBlock(issues []*Issue, auditRisk int) (bool, string) {
	c := count(issues)
	if c.critical > 0 {
		return true, fmt.Sprintf("%d critical compliance issue(s) must be resolved before billing", c.critical)
	}
	if c.errors > 0 && auditRisk > blockThreshold {
		return true, fmt.Sprintf("%d compliance error(s) with audit risk %d", c.errors, auditRisk)
	}
	return false, ""
}

// reviewImpact is the summed unresolved impact above which a biller must
// review the claim.
const reviewImpact = 30

// EvaluateGate gates billing on the unresolved issues of a check.
func EvaluateGate(issues []*Issue) Gate {
	open := make([]*Issue, 0, len(issues))
	impact := 0
	for _, is := range issues {
		if is.Resolved {
			continue
		}
		open = append(open, is)
		impact += is.AuditRiskImpact
	}
	c := count(open)
	g := Gate{
		CanProceed:      c.critical == 0 && c.errors == 0,
		RequiresReview:  c.errors > 0 || c.warnings > 2 || impact > reviewImpact,
		CriticalCount:   c.critical,
		ErrorCount:      c.errors,
		WarningCount:    c.warnings,
		InfoCount:       c.infos,
		AuditRiskImpact: impact,
		BlockingIssues:  []*Issue{},
	}
	for _, is := range open {
		if is.Severity == SeverityCritical || is.Severity == SeverityError {
			g.BlockingIssues = append(g.BlockingIssues, is)
		}
	}
	return g
}
