package ai

import (
	"fmt"
	"strings"
)

const soapSystemPrompt = `You are a clinical documentation assistant for a chiropractic practice.
You turn an encounter transcript into a SOAP note. Document only what the transcript supports;
never invent findings, measurements or diagnoses. Respond with a single JSON object and nothing else.`

const codingSystemPrompt = `You are a certified medical coder specialising in chiropractic billing.
Suggest ICD-10-CM diagnosis codes and CPT procedure codes supported by the documentation.
Respond with a single JSON object and nothing else.`

const complianceSystemPrompt = `You are a chiropractic documentation compliance auditor.
Review the note for payer documentation requirements, medical necessity and internal consistency.
Respond with a single JSON object and nothing else.`

const codingPrompt = `Encounter type: %s

Clinical note:
%s

Return JSON in this shape, ordered by likelihood:
{"icd10":[{"code":"","description":"","confidence":0.0,"rationale":"","isChiroCommon":true}],
 "cpt":[{"code":"","description":"","confidence":0.0,"rationale":"","isChiroCommon":true}]}`

const compliancePrompt = `Encounter type: %s

Clinical note:
%s

Return JSON: {"issues":[{"severity":"info|warning|error|critical","message":"","section":"subjective|objective|assessment|plan","suggestion":""}]}
Return {"issues":[]} when the note has no problems.`

func buildSOAPPrompt(req SOAPRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encounter type: %s\n", req.EncounterType)
	if req.ChiefComplaint != "" {
		fmt.Fprintf(&b, "Chief complaint: %s\n", req.ChiefComplaint)
	}

	p := req.PatientInfo
	var patient []string
	if p.Name != "" {
		patient = append(patient, "name "+p.Name)
	}
	if p.Age > 0 {
		patient = append(patient, fmt.Sprintf("age %d", p.Age))
	}
	if p.Sex != "" {
		patient = append(patient, "sex "+p.Sex)
	}
	if p.Occupation != "" {
		patient = append(patient, "occupation "+p.Occupation)
	}
	if len(p.Conditions) > 0 {
		patient = append(patient, "known conditions "+strings.Join(p.Conditions, ", "))
	}
	if len(patient) > 0 {
		fmt.Fprintf(&b, "Patient: %s\n", strings.Join(patient, "; "))
	}

	if pv := req.PreviousVisit; pv != nil {
		fmt.Fprintf(&b, "\nPrevious visit (%s):\n", pv.Date.Format("2006-01-02"))
		if pv.Assessment != "" {
			fmt.Fprintf(&b, "  Assessment: %s\n", pv.Assessment)
		}
		if pv.Plan != "" {
			fmt.Fprintf(&b, "  Plan: %s\n", pv.Plan)
		}
	}

	if len(req.Preferences) > 0 {
		b.WriteString("\nProvider documentation preferences:\n")
		for _, h := range req.Preferences {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", h.Category, h.Key, h.Summary)
		}
	}

	b.WriteString("\nTranscript:\n")
	b.WriteString(req.Transcript)
	b.WriteString(`

Return JSON: {"subjective":"","objective":"","assessment":"","plan":"","confidence":0.0}
Use null for a section the transcript gives no information for. confidence is your overall
certainty in the note between 0 and 1.`)
	return b.String()
}
