// Package policy validates inbound chat messages with a rego policy.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the document a policy is evaluated against.
type Input struct {
	Content       string `json:"content"`
	AuthorName    string `json:"author_name"`
	ParticipantID string `json:"participant_id"`
	MaxLength     int    `json:"max_length"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.violations"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Violations evaluates the policy and returns every violated rule, sorted.
// An empty result means the message is acceptable.
func (e *Engine) Violations(ctx context.Context, input Input) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DefaultPolicy is the default inbound message policy.
const DefaultPolicy = `
package chat_policy

violations[msg] {
	trim_space(input.content) == ""
	msg := "content is required"
}

violations[msg] {
	input.max_length > 0
	count(input.content) > input.max_length
	msg := sprintf("content exceeds %d characters", [input.max_length])
}

violations[msg] {
	trim_space(input.author_name) == ""
	msg := "author name is required"
}

violations[msg] {
	trim_space(input.participant_id) == ""
	msg := "participant id is required"
}
`
