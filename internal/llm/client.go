package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillworks/quill/internal/domain"
)

// DefaultMaxToolTurns bounds the tool loop of a single model call.
const DefaultMaxToolTurns = 12

// Options configures the chat-completions client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	CallsPerMinute int
	MaxToolTurns   int
}

// Client implements Transformer over the OpenAI chat completions API.
// Every call runs a bounded tool loop with strict JSON-schema output.
type Client struct {
	api          *openai.Client
	model        string
	limiter      *Limiter
	tools        *Registry
	usage        func(domain.Usage)
	maxToolTurns int
}

// NewClient builds a client. tools may be nil for tool-less calls; usage
// may be nil to discard token accounting.
func NewClient(opts Options, tools *Registry, usage func(domain.Usage)) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	turns := opts.MaxToolTurns
	if turns <= 0 {
		turns = DefaultMaxToolTurns
	}
	return &Client{
		api:          openai.NewClientWithConfig(cfg),
		model:        opts.Model,
		limiter:      NewLimiter(opts.CallsPerMinute),
		tools:        tools,
		usage:        usage,
		maxToolTurns: turns,
	}
}

// Apply runs one apply invocation over a state snapshot and the pending
// change specs, returning the validated result.
func (c *Client) Apply(ctx context.Context, req ApplyRequest) (domain.ApplyResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("encode apply request: %w", err)
	}
	raw, err := c.CompleteJSON(ctx, "apply", applySystemPrompt, string(payload), "apply_result", applyResultSchema)
	if err != nil {
		return domain.ApplyResult{}, err
	}
	return ParseApplyResult(raw)
}

// Converse runs one conversational turn and returns the validated
// proposal.
func (c *Client) Converse(ctx context.Context, req ConverseRequest) (domain.Proposal, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.ToolCallID != "" || m.ToolCalls != "" {
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Input})

	raw, err := c.complete(ctx, "converse", converseSystemPrompt, msgs, "proposal", proposalSchema)
	if err != nil {
		return domain.Proposal{}, err
	}
	return ParseProposal(raw)
}

// CompleteJSON runs a single system+user exchange through the tool loop
// and returns the raw structured content. Callers own schema and parsing.
func (c *Client) CompleteJSON(ctx context.Context, kind, system, user, schemaName string, schema json.RawMessage) ([]byte, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: user},
	}
	return c.complete(ctx, kind, system, msgs, schemaName, schema)
}

// complete drives the tool loop: call the model, dispatch any tool calls
// it makes, feed the results back, and return the final structured
// content. The loop is bounded by maxToolTurns.
func (c *Client) complete(ctx context.Context, kind, system string, msgs []openai.ChatCompletionMessage, schemaName string, schema json.RawMessage) ([]byte, error) {
	all := append([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}, msgs...)

	var defs []openai.Tool
	if c.tools != nil {
		defs = c.tools.Definitions()
	}

	for turn := 0; turn < c.maxToolTurns; turn++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: all,
			Tools:    defs,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   schemaName,
					Schema: schema,
					Strict: true,
				},
			},
		})
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrModelCall.Code, kind, err)
		}
		c.record(kind, resp.Usage)
		if len(resp.Choices) == 0 {
			return nil, domain.NewEngineError(domain.ErrModelCall.Code, kind+": empty response")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return []byte(msg.Content), nil
		}

		all = append(all, msg)
		for _, call := range msg.ToolCalls {
			result, err := c.tools.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				return nil, err
			}
			all = append(all, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return nil, domain.NewEngineError(domain.ErrToolLoopLimit.Code,
		fmt.Sprintf("%s: no final answer after %d tool turns", kind, c.maxToolTurns))
}

func (c *Client) record(kind string, u openai.Usage) {
	if c.usage == nil {
		return
	}
	c.usage(domain.Usage{
		Kind:             kind,
		PromptTokens:     int64(u.PromptTokens),
		CompletionTokens: int64(u.CompletionTokens),
		CreatedAt:        time.Now().Unix(),
	})
}

const applySystemPrompt = `You are a careful code editor. You receive the full
contents of every file relevant to a batch of pending change specifications,
plus the specifications themselves. Produce the complete new contents of every
file that must change. If the specifications cannot be realized against the
code as it stands, answer with mode "incompatible" and explain each problem in
issues; never return partial edits. Full file contents only, never diffs.`

const converseSystemPrompt = `You are a repository planning assistant. Discuss
the user's request and, when concrete work emerges, describe it as change
specifications: each with a stable id, title, description, and per-file items
naming the path, the change type (modify, create, delete, move, rename), and a
one-line summary of the intended change. Use the tools to read code before
proposing changes to it. Propose changes only when the user asks for work.`

var applyResultSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"mode": {"type": "string", "enum": ["ok", "incompatible"]},
		"explanation": {"type": "string"},
		"files": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"path": {"type": "string"},
					"is_new": {"type": "boolean"},
					"code": {"type": "string"}
				},
				"required": ["path", "is_new", "code"],
				"additionalProperties": false
			}
		},
		"issues": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"reason": {"type": "string"},
					"paths": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["reason", "paths"],
				"additionalProperties": false
			}
		}
	},
	"required": ["mode", "explanation", "files", "issues"],
	"additionalProperties": false
}`)

var proposalSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"assistant_message": {"type": "string"},
		"changes": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"items": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"path": {"type": "string"},
								"change_type": {"type": "string", "enum": ["modify", "create", "delete", "move", "rename"]},
								"summary_of_change": {"type": "string"}
							},
							"required": ["path", "change_type", "summary_of_change"],
							"additionalProperties": false
						}
					}
				},
				"required": ["id", "title", "description", "items"],
				"additionalProperties": false
			}
		}
	},
	"required": ["assistant_message", "changes"],
	"additionalProperties": false
}`)
