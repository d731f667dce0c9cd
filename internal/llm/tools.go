package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/repo"
)

// ToolFunc executes one tool call. Arguments arrive as the raw JSON the
// model produced; the result is marshaled back into the tool message.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one callable exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Run         ToolFunc
}

// Registry holds the tools available to a model call, in registration
// order.
type Registry struct {
	order  []string
	byName map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if _, ok := r.byName[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.byName[t.Name] = t
}

// Definitions renders the registry in the wire format of the chat API.
func (r *Registry) Definitions() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Dispatch runs a named tool and returns its JSON-encoded result. An
// unknown name fails with ErrToolUnknown; a tool's own failure is
// reported back to the model as an error payload, not as a call failure.
func (r *Registry) Dispatch(ctx context.Context, name, args string) (string, error) {
	t, ok := r.byName[name]
	if !ok {
		return "", domain.NewEngineError(domain.ErrToolUnknown.Code, name)
	}
	res, err := t.Run(ctx, json.RawMessage(args))
	if err != nil {
		res = map[string]string{"error": err.Error()}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode tool result %s: %w", name, err)
	}
	return string(data), nil
}

// SummarySource supplies summary material to the summary-reading tools.
type SummarySource interface {
	FileSummary(path string) (string, error)
	ProjectNames() ([]string, error)
	ProjectSummary(name string) (string, error)
}

// AskFunc relays a model question to the user and returns the answer.
type AskFunc func(ctx context.Context, question string) (string, error)

const snippetMaxLines = 400

// RepoTools builds the standard registry over a repository: listing,
// reading, searching, summary access, and asking the user. ask may be
// nil, in which case the ask_user tool is not registered.
func RepoTools(fs *repo.FS, sums SummarySource, ask AskFunc) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Name:        "list_paths",
		Description: "List repository file paths, optionally filtered by a glob pattern.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"pattern":{"type":"string","description":"Optional glob, e.g. *.go"}},
			"additionalProperties":false}`),
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Pattern string `json:"pattern"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return fs.Glob(in.Pattern)
		},
	})

	r.Register(Tool{
		Name:        "get_file_contents",
		Description: "Read the full contents of a repository file.",
		Parameters:  pathOnlyParams,
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			p, err := pathArg(args)
			if err != nil {
				return nil, err
			}
			return fs.Load(p)
		},
	})

	r.Register(Tool{
		Name:        "get_file_snippet",
		Description: "Read an inclusive 1-based line range of a repository file.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"path":{"type":"string"},
			"start_line":{"type":"integer"},
			"end_line":{"type":"integer"}},
			"required":["path","start_line","end_line"],"additionalProperties":false}`),
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Path      string `json:"path"`
				StartLine int    `json:"start_line"`
				EndLine   int    `json:"end_line"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			if in.EndLine-in.StartLine >= snippetMaxLines {
				in.EndLine = in.StartLine + snippetMaxLines - 1
			}
			return fs.Snippet(in.Path, in.StartLine, in.EndLine)
		},
	})

	r.Register(Tool{
		Name:        "search_code",
		Description: "Find repository files containing a case-insensitive substring.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"query":{"type":"string"},
			"max_results":{"type":"integer"}},
			"required":["query"],"additionalProperties":false}`),
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Query      string `json:"query"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return fs.Search(in.Query, in.MaxResults)
		},
	})

	if sums != nil {
		r.Register(Tool{
			Name:        "get_summary",
			Description: "Read the stored summary of a repository file.",
			Parameters:  pathOnlyParams,
			Run: func(ctx context.Context, args json.RawMessage) (any, error) {
				p, err := pathArg(args)
				if err != nil {
					return nil, err
				}
				return sums.FileSummary(p)
			},
		})
		r.Register(Tool{
			Name:        "list_project_descriptions",
			Description: "List the names of dependency projects with stored summaries.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
			Run: func(ctx context.Context, args json.RawMessage) (any, error) {
				return sums.ProjectNames()
			},
		})
		r.Register(Tool{
			Name:        "get_project_summary",
			Description: "Read the stored summary of a named dependency project.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"name":{"type":"string"}},
				"required":["name"],"additionalProperties":false}`),
			Run: func(ctx context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Name string `json:"name"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return sums.ProjectSummary(in.Name)
			},
		})
	}

	if ask != nil {
		r.Register(Tool{
			Name:        "ask_user",
			Description: "Ask the user a clarifying question and wait for the answer.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"question":{"type":"string"}},
				"required":["question"],"additionalProperties":false}`),
			Run: func(ctx context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Question string `json:"question"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return ask(ctx, in.Question)
			},
		})
	}

	return r
}

var pathOnlyParams = json.RawMessage(`{"type":"object","properties":{
	"path":{"type":"string"}},
	"required":["path"],"additionalProperties":false}`)

func pathArg(args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", fmt.Errorf("path argument is required")
	}
	return in.Path, nil
}
