// Package agents implements the specialist sub-agents the router can
// select. Each agent maps (message, profile) to a response with sources, or
// to an error with a clarification the user can act on. Agents never fail
// the parent run; the workflow's Invoke isolates them.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"finadvisor/backend/pkg/models"
)

// Agent handles one AgentKind.
type Agent interface {
	Kind() models.AgentKind
	Handle(ctx context.Context, in models.AgentInput) (models.AgentOutput, error)
}

// Registry resolves kinds to agents.
type Registry struct {
	agents map[models.AgentKind]Agent
}

// NewRegistry registers agents; a later agent of the same kind replaces an
// earlier one.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[models.AgentKind]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.Kind()] = a
	}
	return r
}

// Get returns the agent for kind.
func (r *Registry) Get(kind models.AgentKind) (Agent, bool) {
	a, ok := r.agents[kind]
	return a, ok
}

// Kinds lists registered kinds in declaration order.
func (r *Registry) Kinds() []models.AgentKind {
	var out []models.AgentKind
	for _, k := range models.AgentKinds {
		if _, ok := r.agents[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// profileJSON renders the profile fields an agent prompt may use.
func profileJSON(u models.User) string {
	view := struct {
		Age     int             `json:"age,omitempty"`
		Profile models.Profile  `json:"profile"`
		Goals   []models.Goal   `json:"goals,omitempty"`
	}{u.Age, u.Profile, u.Goals}
	b, err := json.Marshal(view)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// factNumbers pulls the numeric values out of a facts map in key order.
func factNumbers(facts map[string]any) []float64 {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []float64
	for _, k := range keys {
		switch v := facts[k].(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		}
	}
	return out
}

func factsBlock(facts map[string]any) string {
	if len(facts) == 0 {
		return "none"
	}
	b, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Sprint(facts)
	}
	return string(b)
}
