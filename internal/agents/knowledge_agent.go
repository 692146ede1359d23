package agents

import (
	"context"
	"fmt"
	"strings"

	"finadvisor/backend/internal/grounding"
	"finadvisor/backend/internal/knowledge"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/pkg/models"
)

// FactsFunc computes the deterministic figures an agent's answer may cite.
type FactsFunc func(in models.AgentInput) map[string]any

// KnowledgeAgent answers from a knowledge domain: search, then synthesize
// with the model, then drop any sentence quoting a figure that is neither a
// computed fact, a number from the retrieved passages, nor one the user
// stated.
type KnowledgeAgent struct {
	kind         models.AgentKind
	domain       string
	instructions string
	source       knowledge.Source
	client       llm.Client
	facts        FactsFunc
	topK         int
}

// KnowledgeOption configures a KnowledgeAgent.
type KnowledgeOption func(*KnowledgeAgent)

// WithFacts attaches deterministic figures to every answer.
func WithFacts(f FactsFunc) KnowledgeOption { return func(a *KnowledgeAgent) { a.facts = f } }

// WithTopK sets how many passages are retrieved.
func WithTopK(k int) KnowledgeOption { return func(a *KnowledgeAgent) { a.topK = k } }

func NewKnowledgeAgent(kind models.AgentKind, domain, instructions string, source knowledge.Source, client llm.Client, opts ...KnowledgeOption) *KnowledgeAgent {
	a := &KnowledgeAgent{kind: kind, domain: domain, instructions: instructions, source: source, client: client, topK: 5}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *KnowledgeAgent) Kind() models.AgentKind { return a.kind }

func (a *KnowledgeAgent) Handle(ctx context.Context, in models.AgentInput) (models.AgentOutput, error) {
	matches, err := a.source.Search(ctx, a.domain, in.Message, a.topK)
	if err != nil {
		return models.AgentOutput{}, fmt.Errorf("failed to search %s: %w", a.domain, err)
	}
	var facts map[string]any
	if a.facts != nil {
		facts = a.facts(in)
	}

	var kb strings.Builder
	sources := make([]string, 0, len(matches))
	for _, m := range matches {
		fmt.Fprintf(&kb, "- [%s] %s: %s\n", m.ID, m.Title, m.Text)
		sources = append(sources, m.ID)
	}
	if kb.Len() == 0 {
		kb.WriteString("(no reference material found)\n")
	}

	prompt := fmt.Sprintf(`%s

User question: %q

User profile: %s

Computed figures (quote only these numbers, never compute your own):
%s

Reference material:
%s
Answer in at most 5 short sentences for an Indian retail investor.`,
		a.instructions, in.Message, profileJSON(in.Profile), factsBlock(facts), kb.String())

	text, err := a.client.Complete(ctx, llm.Request{
		System:      "You are a careful Indian personal-finance specialist. Never invent figures.",
		Prompt:      prompt,
		Temperature: 0.3,
	})
	if err != nil {
		return models.AgentOutput{}, err
	}

	allowed := grounding.NewSet(factNumbers(facts)...)
	allowed.AddText(in.Message)
	for _, m := range matches {
		allowed.AddText(m.Title + " " + m.Text)
	}
	response, _ := grounding.Filter(text, allowed)

	return models.AgentOutput{
		Agent:    a.kind,
		Response: response,
		Sources:  sources,
		Facts:    facts,
	}, nil
}
