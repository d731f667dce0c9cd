// Package domain defines the core types for the Quill editing engine.
package domain

import "path"

// FileKind says whether a state entry carries a compact summary or the
// full verbatim contents of a file.
type FileKind string

const (
	KindSummary FileKind = "summary"
	KindFull    FileKind = "full"
)

// FileMeta holds size bookkeeping for a state entry. LineCount and
// ByteSize are populated for full entries; HasSummary for summary entries.
type FileMeta struct {
	LineCount  int  `json:"line_count,omitempty"`
	ByteSize   int  `json:"byte_size,omitempty"`
	HasSummary bool `json:"has_summary,omitempty"`
}

// FileStateEntry is the per-path record inside SystemState.
type FileStateEntry struct {
	Path string   `json:"path"`
	Kind FileKind `json:"kind"`
	Body string   `json:"body"`
	Meta FileMeta `json:"meta"`
}

// SystemState is the versioned view of repository file contents that is
// handed to the external transformation step. Version is bumped on every
// mutation and never reused.
type SystemState struct {
	Version int64                     `json:"version"`
	Files   map[string]FileStateEntry `json:"files"`
}

// ChangeType classifies a file-level edit intent.
type ChangeType string

const (
	ChangeModify ChangeType = "modify"
	ChangeCreate ChangeType = "create"
	ChangeDelete ChangeType = "delete"
	ChangeMove   ChangeType = "move"
	ChangeRename ChangeType = "rename"
)

// ValidChangeType reports whether t is one of the closed set of change types.
func ValidChangeType(t ChangeType) bool {
	switch t {
	case ChangeModify, ChangeCreate, ChangeDelete, ChangeMove, ChangeRename:
		return true
	}
	return false
}

// ChangeItem is a single file-level intent inside a ChangeSpec.
type ChangeItem struct {
	Path            string     `json:"path"`
	ChangeType      ChangeType `json:"change_type"`
	SummaryOfChange string     `json:"summary_of_change"`
}

// ChangeSpec is a named, identified batch of file-level edit intents.
// IDs are stable across retries; re-submitting an id updates in place.
type ChangeSpec struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Items       []ChangeItem `json:"items"`
}

// ApplyMode is the outcome reported by the external transformation step.
type ApplyMode string

const (
	ModeOK           ApplyMode = "ok"
	ModeIncompatible ApplyMode = "incompatible"
)

// FileWrite is one file in an apply response.
type FileWrite struct {
	Path     string `json:"path"`
	IsNew    bool   `json:"is_new"`
	Contents string `json:"code"`
}

// Issue names a problem and the paths it affects. Every failure path in the
// engine produces at least one issue; nothing is silently dropped.
type Issue struct {
	Reason string   `json:"reason"`
	Paths  []string `json:"paths"`
}

// ApplyResult is the structured response of the transformation step.
// When Mode is incompatible, Files is empty and Issues explains why.
type ApplyResult struct {
	Mode        ApplyMode   `json:"mode"`
	Explanation string      `json:"explanation"`
	Files       []FileWrite `json:"files"`
	Issues      []Issue     `json:"issues"`
}

// Proposal is the structured response of a conversational (non-apply) turn.
type Proposal struct {
	AssistantMessage string       `json:"assistant_message"`
	Changes          []ChangeSpec `json:"changes"`
}

// SplitTask wraps a synthesized follow-up ChangeSpec that shrinks an
// oversized written file into two files.
type SplitTask struct {
	Spec ChangeSpec
}

// ApplyReport is what an apply transaction returns to the caller: the
// final state version, what was written, and every issue encountered.
type ApplyReport struct {
	Mode         ApplyMode
	Explanation  string
	StateVersion int64
	Written      []string
	Issues       []Issue
	Splits       int
}

// CommitRecord is one entry in the persisted commit log.
type CommitRecord struct {
	ID          string
	Paths       []string
	Explanation string
	CreatedAt   int64
}

// Usage records token consumption for one model call.
type Usage struct {
	Kind             string
	PromptTokens     int64
	CompletionTokens int64
	CreatedAt        int64
}

// Message is one turn in the persisted conversation history.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCalls  string `json:"tool_calls,omitempty"`
	CreatedAt  int64  `json:"ts,omitempty"`
}

// NormalizePath cleans a repository-relative path to slash form.
func NormalizePath(p string) string {
	return path.Clean("/" + p)[1:]
}

// CountLines counts lines the way the editor does: a trailing newline does
// not start a new line, and the empty string has zero lines.
func CountLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}
