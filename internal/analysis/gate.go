package analysis

import "finadvisor/backend/pkg/models"

// MaxClarifyingQuestions caps how much is asked in one reply.
const MaxClarifyingQuestions = 3

// GateResult is the completeness gate decision.
type GateResult struct {
	HasCriticalGaps     bool     `json:"hasCriticalGaps"`
	MissingFields       []Field  `json:"missingFields"`
	ClarifyingQuestions []string `json:"clarifyingQuestions"`
}

// Evaluate checks the critical fields (age, monthly expenses, employment
// type). MissingFields lists the absent critical fields in priority order.
// When any is missing the questions are topped up to the cap with the next
// highest-priority gaps so a single reply can collect more.
func Evaluate(u models.User) GateResult {
	res := GateResult{MissingFields: []Field{}, ClarifyingQuestions: []string{}}
	for _, f := range fieldPriority {
		if f.critical && !f.present(u) {
			res.MissingFields = append(res.MissingFields, f.field)
		}
	}
	res.HasCriticalGaps = len(res.MissingFields) > 0
	if !res.HasCriticalGaps {
		return res
	}
	for _, f := range fieldPriority {
		if len(res.ClarifyingQuestions) == MaxClarifyingQuestions {
			break
		}
		if !f.present(u) {
			res.ClarifyingQuestions = append(res.ClarifyingQuestions, f.question)
		}
	}
	return res
}

// MissingFields returns every absent tracked field in priority order.
func MissingFields(u models.User) []Field {
	var out []Field
	for _, f := range fieldPriority {
		if !f.present(u) {
			out = append(out, f.field)
		}
	}
	return out
}

// Completeness is how much of the tracked profile is filled in.
type Completeness struct {
	Score           int     `json:"score"` // 0-100
	CompletedFields int     `json:"completedFields"`
	TotalFields     int     `json:"totalFields"`
	Missing         []Field `json:"missing,omitempty"`
}

// ProfileCompleteness scores round(completed / tracked * 100).
func ProfileCompleteness(u models.User) Completeness {
	missing := MissingFields(u)
	done := TrackedFieldCount - len(missing)
	score := (done*100 + TrackedFieldCount/2) / TrackedFieldCount
	return Completeness{
		Score:           score,
		CompletedFields: done,
		TotalFields:     TrackedFieldCount,
		Missing:         missing,
	}
}
