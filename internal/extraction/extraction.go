// Package extraction turns a free-text chat message into a validated,
// sparse profile update. Model output is parsed, schema-checked and reduced
// to a tagged Result; nothing unvalidated reaches the store.
package extraction

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/pkg/models"
)

//go:embed schema.json
var schemaJSON string

var schema = llm.MustCompileSchema("extraction.json", schemaJSON)

// Extraction is the validated draft. Nil means the message did not state
// the value.
type Extraction struct {
	Age             *int                   `json:"age,omitempty"`
	MonthlyIncome   *float64               `json:"monthlyIncome,omitempty"`
	MonthlyExpenses *float64               `json:"monthlyExpenses,omitempty"`
	EmploymentType  *models.EmploymentType `json:"employmentType,omitempty"`
	Dependents      *int                   `json:"dependents,omitempty"`
	Assets          *Assets                `json:"assets,omitempty"`
	Liabilities     []models.Liability     `json:"liabilities,omitempty"`
	Insurance       *Insurance             `json:"insurance,omitempty"`
	TaxDetails      *TaxDetails            `json:"taxDetails,omitempty"`
}

type Assets struct {
	EmergencyFund *float64 `json:"emergencyFund,omitempty"`
	FixedDeposits *float64 `json:"fixedDeposits,omitempty"`
	MutualFunds   *float64 `json:"mutualFunds,omitempty"`
	Stocks        *float64 `json:"stocks,omitempty"`
	Gold          *float64 `json:"gold,omitempty"`
	RealEstate    *float64 `json:"realEstate,omitempty"`
}

type Insurance struct {
	LifeCover   *float64 `json:"lifeInsuranceCover,omitempty"`
	HealthCover *float64 `json:"healthInsuranceCover,omitempty"`
}

type TaxDetails struct {
	Regime *models.TaxRegime `json:"regime,omitempty"`
	PAN    *string           `json:"pan,omitempty"`
}

// Kind tags a Result.
type Kind string

const (
	KindValidated       Kind = "validated"
	KindValidationError Kind = "validation_error"
)

// Result is either a validated extraction (possibly with invalid top-level
// fields dropped) or a validation error carrying the reasons. It is the
// memoized value of the extraction step.
type Result struct {
	Kind       Kind        `json:"kind"`
	Extraction *Extraction `json:"extraction,omitempty"`
	Dropped    []string    `json:"dropped,omitempty"`
	Issues     []string    `json:"issues,omitempty"`
}

// Validated returns the extraction when the result carries one.
func (r Result) Validated() (Extraction, bool) {
	if r.Kind != KindValidated || r.Extraction == nil {
		return Extraction{}, false
	}
	return *r.Extraction, true
}

// Patch converts a validated result into a sparse profile update. A
// validation error yields an empty patch. Non-positive age and empty
// employment are treated as not stated.
func (r Result) Patch() models.ProfilePatch {
	e, ok := r.Validated()
	if !ok {
		return models.ProfilePatch{}
	}
	var p models.ProfilePatch
	if e.Age != nil && *e.Age > 0 {
		p.Age = e.Age
	}
	if e.EmploymentType != nil && e.EmploymentType.Valid() {
		p.EmploymentType = e.EmploymentType
	}
	p.MonthlyIncome = e.MonthlyIncome
	// Zero spending is never a real answer; keep the stored burn rate.
	if e.MonthlyExpenses != nil && *e.MonthlyExpenses > 0 {
		p.MonthlyBurnRate = e.MonthlyExpenses
	}
	p.Dependents = e.Dependents
	if a := e.Assets; a != nil {
		p.EmergencyFund, p.FixedDeposits, p.MutualFunds = a.EmergencyFund, a.FixedDeposits, a.MutualFunds
		p.Stocks, p.Gold, p.RealEstate = a.Stocks, a.Gold, a.RealEstate
	}
	if len(e.Liabilities) > 0 {
		p.Liabilities = e.Liabilities
	}
	if ins := e.Insurance; ins != nil {
		p.LifeCover, p.HealthCover = ins.LifeCover, ins.HealthCover
	}
	if td := e.TaxDetails; td != nil {
		p.TaxRegime = td.Regime
		if td.PAN != nil && *td.PAN != "" {
			p.PAN = td.PAN
		}
	}
	return p
}

// Extractor calls the model and validates its answer.
type Extractor struct {
	client llm.Client
}

func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

const systemPrompt = "Extract Indian personal-finance data from the user's message. Return only a JSON object; use null for anything not stated."

const promptTemplate = `Extract Indian financial data from: %q

CURRENCY CONVERSION:
40k = 40000, 5L = 500000, 1Cr = 10000000
8 LPA = monthly 66666 (800000/12)

Return JSON:
{
  "age": number|null,
  "monthlyIncome": number|null,
  "monthlyExpenses": number|null,
  "employmentType": "salaried"|"gig"|"business"|"student"|"retired"|null,
  "dependents": number|null,
  "assets": {"emergencyFund": number|null, "fixedDeposits": number|null, "mutualFunds": number|null, "stocks": number|null, "gold": number|null, "realEstate": number|null},
  "liabilities": [{"type": string, "outstandingAmount": number, "interestRate": number, "monthlyEmi": number}]|null,
  "insurance": {"lifeInsuranceCover": number|null, "healthInsuranceCover": number|null},
  "taxDetails": {"regime": "old"|"new"|null, "pan": string|null}
}`

// Extract never fails on bad model output: text without a JSON object gives
// an empty validated extraction, and schema violations confined to some
// top-level fields drop just those fields. Errors returned are the model
// call's own (transient or not), for the step's retry policy to handle.
func (x *Extractor) Extract(ctx context.Context, text string) (Result, error) {
	out, err := x.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(promptTemplate, text),
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return Result{}, err
	}
	return Parse(out), nil
}

// Parse validates raw model output.
func Parse(output string) Result {
	raw, err := llm.ExtractJSON(output)
	if err != nil {
		return Result{Kind: KindValidated, Extraction: &Extraction{}, Issues: []string{err.Error()}}
	}

	violations, err := schema.Validate(raw)
	if err != nil {
		return Result{Kind: KindValidationError, Issues: []string{err.Error()}}
	}
	var issues, dropped []string
	if len(violations) > 0 {
		for _, v := range violations {
			issues = append(issues, v.String())
		}
		raw, dropped, err = dropFields(raw, violations)
		if err != nil {
			return Result{Kind: KindValidationError, Issues: issues}
		}
		if again, verr := schema.Validate(raw); verr != nil || len(again) > 0 {
			return Result{Kind: KindValidationError, Issues: issues}
		}
	}

	var e Extraction
	if err := json.Unmarshal(raw, &e); err != nil {
		return Result{Kind: KindValidationError, Issues: append(issues, apperr.Wrap(apperr.CodeExtractionParse, "decode extraction", err).Error())}
	}
	return Result{Kind: KindValidated, Extraction: &e, Dropped: dropped, Issues: issues}
}

// dropFields removes the top-level properties that own a violation.
func dropFields(raw json.RawMessage, violations []llm.Violation) (json.RawMessage, []string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}
	seen := map[string]bool{}
	for _, v := range violations {
		top := strings.SplitN(strings.TrimPrefix(v.Path, "/"), "/", 2)[0]
		if top == "" {
			return nil, nil, apperr.New(apperr.CodeValidation, "document-level violation: "+v.Message)
		}
		if !seen[top] {
			seen[top] = true
			delete(doc, top)
		}
	}
	dropped := make([]string, 0, len(seen))
	for k := range seen {
		dropped = append(dropped, k)
	}
	sort.Strings(dropped)
	out, err := json.Marshal(doc)
	return out, dropped, err
}
