package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quillworks/quill/internal/domain"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "quill.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"repo_root": "`+dir+`"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LineCap != 500 {
		t.Errorf("LineCap = %d, want 500", cfg.LineCap)
	}
	if cfg.ConsolidateInterval != 3 {
		t.Errorf("ConsolidateInterval = %d, want 3", cfg.ConsolidateInterval)
	}
	if cfg.DBPath != filepath.Join(dir, ".quill", "quill.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.ConversationCap != 120 || cfg.SummaryMaxBytes != 2<<20 {
		t.Errorf("caps = %d/%d", cfg.ConversationCap, cfg.SummaryMaxBytes)
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"repo_root": "`+dir+`",
		"line_cap": 200,
		"consolidate_interval": 5,
		"model": "gpt-4o-mini"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LineCap != 200 || cfg.ConsolidateInterval != 5 || cfg.Model != "gpt-4o-mini" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"repo_root": "`+dir+`"}`)
	t.Setenv("QUILL_MODEL", "gpt-4.1")
	t.Setenv("QUILL_API_KEY", "sk-test")
	t.Setenv("QUILL_LINE_CAP", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "gpt-4.1" || cfg.APIKey != "sk-test" || cfg.LineCap != 250 {
		t.Errorf("env overlay not applied: %+v", cfg)
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"bad repo root", `{"repo_root": "/definitely/not/a/dir"}`},
		{"bad deps dir", `{"repo_root": "` + dir + `", "deps_dir": "/nope"}`},
		{"negative line cap", `{"repo_root": "` + dir + `", "line_cap": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			if _, err := Load(path); !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("err = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing config file accepted")
	}
}
