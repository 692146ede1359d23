// Package knowledge answers "what does the reference material say about
// this message" for the sub-agents. A Source is keyed by domain (tax rules,
// investment products, schemes, ...) and the raw message text.
package knowledge

import (
	"context"
)

// Domains searched by the agents.
const (
	DomainTax        = "tax_rules"
	DomainInvestment = "investment_products"
	DomainRetirement = "retirement_products"
	DomainSchemes    = "government_schemes"
	DomainGeneral    = "financial_literacy"
)

// Match is one retrieved passage.
type Match struct {
	ID       string  `json:"id" yaml:"id"`
	Score    float64 `json:"score" yaml:"-"`
	Title    string  `json:"title,omitempty" yaml:"title"`
	Text     string  `json:"text" yaml:"text"`
	Category string  `json:"category,omitempty" yaml:"category"`
}

// Source retrieves the topK passages in domain most relevant to query.
type Source interface {
	Search(ctx context.Context, domain, query string, topK int) ([]Match, error)
}
