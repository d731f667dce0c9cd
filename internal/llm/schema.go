// Package llm is the boundary to the external transformation step: an
// opaque model call that accepts a structured request and returns a
// structured, schema-validated response.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillworks/quill/internal/domain"
)

// Transformer is the external transformation boundary. Apply hands over a
// promoted SystemState snapshot plus the pending change specs and expects
// a strict ApplyResult; Converse drives one conversational turn and
// expects a proposal. Both calls may block for a long time and honor
// context cancellation.
type Transformer interface {
	Apply(ctx context.Context, req ApplyRequest) (domain.ApplyResult, error)
	Converse(ctx context.Context, req ConverseRequest) (domain.Proposal, error)
}

// ApplyRequest seeds one apply invocation.
type ApplyRequest struct {
	State   domain.SystemState  `json:"system_state"`
	Pending []domain.ChangeSpec `json:"pending_changes"`
}

// ConverseRequest seeds one conversational turn.
type ConverseRequest struct {
	History []domain.Message `json:"history"`
	Input   string           `json:"input"`
}

// ParseApplyResult validates a raw payload against the ApplyResult schema.
// A payload missing required fields, or whose mode is unrecognized, fails
// with ErrSchemaInvalid; the violation list names every problem found.
func ParseApplyResult(data []byte) (domain.ApplyResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.ApplyResult{}, domain.WrapEngineError(domain.ErrSchemaInvalid.Code, "apply response is not a JSON object", err)
	}

	var violations []string
	for _, k := range []string{"mode", "explanation", "files", "issues"} {
		if _, ok := raw[k]; !ok {
			violations = append(violations, fmt.Sprintf("missing required field %q", k))
		}
	}
	if len(violations) > 0 {
		return domain.ApplyResult{}, schemaErr(violations)
	}

	var res domain.ApplyResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.ApplyResult{}, domain.WrapEngineError(domain.ErrSchemaInvalid.Code, "apply response field types", err)
	}

	if res.Mode != domain.ModeOK && res.Mode != domain.ModeIncompatible {
		violations = append(violations, fmt.Sprintf("mode %q must be ok or incompatible", res.Mode))
	}
	for i, f := range res.Files {
		if f.Path == "" {
			violations = append(violations, fmt.Sprintf("files[%d].path must be non-empty", i))
		}
	}
	for i, issue := range res.Issues {
		if issue.Reason == "" {
			violations = append(violations, fmt.Sprintf("issues[%d].reason must be non-empty", i))
		}
	}
	if res.Mode == domain.ModeIncompatible {
		if len(res.Files) != 0 {
			violations = append(violations, "incompatible response must carry no files")
		}
		if len(res.Issues) == 0 {
			violations = append(violations, "incompatible response must explain itself in issues")
		}
	}
	if len(violations) > 0 {
		return domain.ApplyResult{}, schemaErr(violations)
	}

	for i := range res.Files {
		res.Files[i].Path = domain.NormalizePath(res.Files[i].Path)
	}
	return res, nil
}

// ParseProposal validates a conversational-turn payload. Malformed specs
// are dropped individually: a bad batch should not void the assistant's
// message or its valid siblings.
func ParseProposal(data []byte) (domain.Proposal, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Proposal{}, domain.WrapEngineError(domain.ErrSchemaInvalid.Code, "proposal is not a JSON object", err)
	}
	var violations []string
	for _, k := range []string{"assistant_message", "changes"} {
		if _, ok := raw[k]; !ok {
			violations = append(violations, fmt.Sprintf("missing required field %q", k))
		}
	}
	if len(violations) > 0 {
		return domain.Proposal{}, schemaErr(violations)
	}

	var p domain.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Proposal{}, domain.WrapEngineError(domain.ErrSchemaInvalid.Code, "proposal field types", err)
	}

	kept := p.Changes[:0]
	for _, spec := range p.Changes {
		if !validProposalSpec(spec) {
			continue
		}
		for i := range spec.Items {
			spec.Items[i].Path = domain.NormalizePath(spec.Items[i].Path)
		}
		kept = append(kept, spec)
	}
	p.Changes = kept
	return p, nil
}

func validProposalSpec(spec domain.ChangeSpec) bool {
	if spec.ID == "" || spec.Title == "" {
		return false
	}
	for _, it := range spec.Items {
		if it.Path == "" || !domain.ValidChangeType(it.ChangeType) {
			return false
		}
	}
	return true
}

func schemaErr(violations []string) error {
	return domain.NewEngineError(domain.ErrSchemaInvalid.Code, strings.Join(violations, "; "))
}
