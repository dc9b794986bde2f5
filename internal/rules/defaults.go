package rules

import "github.com/chiro/chiro/internal/soap"

// Default returns the built-in chiropractic documentation tables. Each call
// builds fresh maps and slices, so callers cannot mutate shared state.
func Default() *Ruleset {
	return &Ruleset{
		Encounters: map[EncounterType]EncounterRule{
			EncounterInitialEvaluation: {
				Sections: map[soap.Section][]string{
					soap.Subjective: {"chief complaint", "history of present illness", "pain scale", "mechanism of injury"},
					soap.Objective:  {"range of motion", "palpation", "orthopedic tests", "neurological exam"},
					soap.Assessment: {"diagnosis", "prognosis"},
					soap.Plan:       {"treatment plan", "frequency", "goals"},
				},
				Critical: []string{"chief complaint", "diagnosis", "treatment plan"},
			},
			EncounterFollowUp: {
				Sections: map[soap.Section][]string{
					soap.Subjective: {"pain scale", "progress"},
					soap.Objective:  {"palpation", "range of motion"},
					soap.Assessment: {"response to treatment"},
					soap.Plan:       {"treatment provided", "next visit"},
				},
				Critical: []string{"treatment provided"},
			},
			EncounterReEvaluation: {
				Sections: map[soap.Section][]string{
					soap.Subjective: {"pain scale", "progress", "functional status"},
					soap.Objective:  {"range of motion", "orthopedic tests", "outcome measures"},
					soap.Assessment: {"diagnosis", "progress toward goals"},
					soap.Plan:       {"updated goals", "treatment plan", "frequency"},
				},
				Critical: []string{"outcome measures", "progress toward goals"},
			},
			EncounterDischarge: {
				Sections: map[soap.Section][]string{
					soap.Subjective: {"pain scale", "functional status"},
					soap.Objective:  {"range of motion"},
					soap.Assessment: {"discharge status"},
					soap.Plan:       {"home care", "follow up"},
				},
				Critical: []string{"discharge status"},
			},
			EncounterMaintenance: {
				Sections: map[soap.Section][]string{
					soap.Subjective: {"pain scale"},
					soap.Objective:  {"palpation"},
					soap.Assessment: {"diagnosis"},
					soap.Plan:       {"treatment provided"},
				},
				Critical: []string{"treatment provided"},
			},
		},
		ElementVariants: map[string][]string{
			"chief complaint":            {"chief complaint", "cc:", "presents with", "complains of", "c/o"},
			"history of present illness": {"history", "hpi", "onset", "started", "began"},
			"pain scale":                 {"pain scale", "/10", "out of 10", "vas", "nprs", "pain level", "pain rating"},
			"mechanism of injury":        {"mechanism", "injured", "injury", "accident", "fell", "lifting", "mva", "motor vehicle"},
			"range of motion":            {"range of motion", "rom", "flexion", "extension", "rotation", "lateral bending"},
			"palpation":                  {"palpation", "palpated", "tenderness", "tender", "hypertonicity", "spasm"},
			"orthopedic tests":           {"orthopedic", "slr", "straight leg raise", "kemp", "spurling", "foraminal compression", "positive test", "negative test"},
			"neurological exam":          {"neurological", "neuro", "reflexes", "dermatome", "myotome", "sensation", "dtr"},
			"diagnosis":                  {"diagnosis", "dx", "subluxation", "strain", "sprain", "radiculopathy", "segmental dysfunction", "m54", "m99"},
			"prognosis":                  {"prognosis", "expected to improve", "favorable", "guarded"},
			"treatment plan":             {"treatment plan", "plan of care", "will continue", "recommend", "treatment will"},
			"frequency":                  {"frequency", "x/week", "times per week", "times a week", "per week", "x per week"},
			"goals":                      {"goal", "goals", "aim to", "target"},
			"progress":                   {"progress", "improving", "improved", "better", "worse", "unchanged", "same as"},
			"response to treatment":      {"response", "responded", "tolerated", "improvement", "improving", "no change"},
			"treatment provided":         {"adjustment", "adjusted", "manipulation", "cmt", "treatment provided", "treated", "performed"},
			"next visit":                 {"next visit", "follow up", "follow-up", "return", "rtc", "f/u"},
			"functional status":          {"function", "functional", "adl", "activities of daily living", "able to", "unable to"},
			"outcome measures":           {"oswestry", "ndi", "neck disability", "outcome", "questionnaire", "functional rating", "psfs"},
			"progress toward goals":      {"goals met", "progress toward", "achieved", "partially met", "goal"},
			"updated goals":              {"updated goal", "revised goal", "new goal", "goals"},
			"discharge status":           {"discharge", "discharged", "maximum medical improvement", "mmi", "released"},
			"home care":                  {"home", "exercise", "hep", "stretches", "ice", "heat", "self-care"},
			"follow up":                  {"follow up", "follow-up", "return", "prn", "as needed", "f/u"},
			"subluxation":                {"subluxation", "segmental dysfunction", "m99"},
			"asymmetry":                  {"asymmetry", "misalignment", "malposition", "rotated", "high ilium", "short leg"},
			"tissue tone":                {"tone", "hypertonicity", "spasm", "tissue", "tender"},
			"causation":                  {"work-related", "work related", "occurred at work", "on the job", "causally related", "causation", "as a result of", "motor vehicle", "mva", "accident"},
			"work status":                {"work status", "modified duty", "light duty", "full duty", "off work", "return to work"},
		},
		Payers: map[PayerType]PayerRule{
			PayerMedicare: {
				Required: []string{"subluxation", "pain scale", "asymmetry", "range of motion", "tissue tone", "treatment plan", "goals", "frequency"},
				Critical: []string{"subluxation", "treatment plan"},
			},
			PayerMedicaid: {
				Required: []string{"treatment plan", "goals", "frequency"},
				Critical: []string{"treatment plan"},
			},
			PayerCommercial: {
				Required: []string{"diagnosis", "treatment plan"},
			},
			PayerWorkersComp: {
				Required: []string{"mechanism of injury", "causation", "work status", "functional status"},
				Critical: []string{"causation", "work status"},
			},
			PayerPersonalInjury: {
				Required: []string{"mechanism of injury", "causation", "prognosis", "functional status"},
				Critical: []string{"mechanism of injury", "causation"},
			},
		},
		NecessityKeywords: []string{
			"medically necessary", "medical necessity", "functional limitation", "functional deficit",
			"limitation", "unable to", "difficulty", "impairment", "impaired", "interferes with",
			"activities of daily living", "adl", "restricted", "decreased range of motion",
			"loss of function", "work restrictions",
		},
		GoalKeywords: []string{"goal", "target", "aim to", "return to", "improve", "increase", "reduce", "restore"},
		NecessityFix: "Treatment is medically necessary to address functional limitations affecting the " +
			"patient's activities of daily living. Documented deficits are expected to improve with the " +
			"prescribed course of care.",
		GoalsFix: "Goals: reduce pain to 2/10 or less, restore full cervical and lumbar range of motion, " +
			"and return to normal activities of daily living within 6 weeks.",
		AuditWeights: AuditWeights{
			MissingElement:   10,
			MedicalNecessity: 20,
			ClonedNote:       25,
			CodeComplexity:   15,
			PayerCritical:    10,
		},
		ClonedNote:      ClonedNoteRule{MinChars: 50, PriorNotes: 5, Threshold: 0.85},
		MinSectionChars: 10,

		CMTRegions: map[string]RegionRange{
			"98940": {Min: 1, Max: 2},
			"98941": {Min: 3, Max: 4},
			"98942": {Min: 5, Max: 5},
		},
		RegionKeywords: map[string][]string{
			"cervical": {"cervical", "neck", "c-spine"},
			"thoracic": {"thoracic", "mid back", "mid-back", "t-spine"},
			"lumbar":   {"lumbar", "low back", "lower back", "l-spine"},
			"sacral":   {"sacral", "sacrum", "sacroiliac", "si joint", "coccyx"},
			"pelvic":   {"pelvic", "pelvis", "ilium", "innominate"},
		},
		MaxRegions:       5,
		HighComplexityEM: []string{"99204", "99205", "99214", "99215"},
		HighEMMinWords:   200,
		EMKeywordGroups: map[string][]string{
			"history":         {"history", "hpi", "onset", "past medical", "medications", "allergies"},
			"exam":            {"exam", "examination", "palpation", "range of motion", "inspection", "orthopedic", "neurological"},
			"decision_making": {"differential", "diagnosis", "risk", "prescribed", "referred", "imaging", "decision", "plan"},
		},
		ComplexityKeywords: []string{
			"complex", "multiple conditions", "comorbid", "differential", "referral", "referred",
			"imaging", "mri", "high risk", "extensive", "severe", "red flag",
		},

		SpecificityAlternatives: map[string][]string{
			"M54.5": {"M54.50", "M54.51", "M54.59"},
			"M54.1": {"M54.12", "M54.13", "M54.16", "M54.17"},
			"M54.3": {"M54.30", "M54.31", "M54.32"},
			"M54.4": {"M54.40", "M54.41", "M54.42"},
			"M99.0": {"M99.01", "M99.02", "M99.03", "M99.04", "M99.05"},
			"M53.8": {"M53.82", "M53.83", "M53.86", "M53.88"},
			"S13.4": {"S13.4XXA", "S13.4XXD", "S13.4XXS"},
			"S33.5": {"S33.5XXA", "S33.5XXD", "S33.5XXS"},
			"S23.3": {"S23.3XXA", "S23.3XXD", "S23.3XXS"},
		},
		CodeKeywords: map[string][]string{
			"98940":    {"adjustment", "adjusted", "manipulation", "cmt"},
			"98941":    {"adjustment", "adjusted", "manipulation", "cmt"},
			"98942":    {"adjustment", "adjusted", "manipulation", "cmt"},
			"98943":    {"extraspinal", "extremity adjustment", "shoulder", "knee"},
			"97140":    {"soft tissue", "myofascial", "mobilization", "massage"},
			"97110":    {"exercise", "stretching", "strengthening"},
			"97112":    {"balance", "neuromuscular", "proprioception", "coordination"},
			"97530":    {"functional activities", "therapeutic activities", "lifting"},
			"97012":    {"traction", "decompression"},
			"97014":    {"electrical stimulation", "e-stim", "tens"},
			"G0283":    {"electrical stimulation", "e-stim", "tens"},
			"97035":    {"ultrasound"},
			"97010":    {"ice", "heat", "cryotherapy", "hot pack", "cold pack"},
			"M54.2":    {"neck pain", "cervicalgia"},
			"M54.50":   {"low back pain", "lumbago", "lumbar pain"},
			"M54.6":    {"thoracic pain", "mid back pain"},
			"M99.01":   {"cervical subluxation", "cervical segmental dysfunction"},
			"M99.02":   {"thoracic subluxation", "thoracic segmental dysfunction"},
			"M99.03":   {"lumbar subluxation", "lumbar segmental dysfunction"},
			"M99.04":   {"sacral subluxation", "sacroiliac"},
			"M54.12":   {"cervical radiculopathy", "radiating", "arm numbness"},
			"M54.16":   {"lumbar radiculopathy", "radiating", "leg numbness"},
			"M54.30":   {"sciatica"},
			"M54.41":   {"sciatica", "low back pain"},
			"M62.830":  {"spasm", "muscle spasm"},
			"S13.4XXA": {"whiplash", "neck sprain", "cervical sprain"},
			"S33.5XXA": {"lumbar sprain", "low back sprain"},
			"G44.209":  {"tension headache", "headache"},
		},
		BilateralCodes:    []string{"97140", "97035", "97014", "20552", "20553", "64450"},
		TherapyCodePrefix: "97",
		SupportingTextMax: 200,
	}
}
