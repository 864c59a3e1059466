package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"DATABASE_DRIVER", "DUPLICATE_THRESHOLD", "MATCH_THRESHOLD", "EMBEDDING_DIM", "MATCHER"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected default driver postgres, got %q", cfg.Database.Driver)
	}
	if cfg.Matching.DuplicateThreshold != 0.4 {
		t.Errorf("expected default duplicate threshold 0.4, got %v", cfg.Matching.DuplicateThreshold)
	}
	if cfg.Matching.MatchThreshold != 0.5 {
		t.Errorf("expected default match threshold 0.5, got %v", cfg.Matching.MatchThreshold)
	}
	if cfg.Embedding.Dim != 128 {
		t.Errorf("expected default dim 128, got %d", cfg.Embedding.Dim)
	}
	if cfg.Matching.Matcher != "linear" {
		t.Errorf("expected default matcher linear, got %q", cfg.Matching.Matcher)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "attendance.db")
	t.Setenv("MATCH_THRESHOLD", "0.45")
	t.Setenv("EMBEDDING_DIM", "512")
	t.Setenv("WEB_ALLOWED_ORIGINS", "http://a.example, ,http://b.example")

	cfg := Load()

	if cfg.Database.Driver != "sqlite" || cfg.Database.URL != "attendance.db" {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Matching.MatchThreshold != 0.45 {
		t.Errorf("expected 0.45, got %v", cfg.Matching.MatchThreshold)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected 512, got %d", cfg.Embedding.Dim)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "http://b.example" {
		t.Errorf("unexpected origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestEnvHelpers_InvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT", "-3")
	t.Setenv("TEST_FLOAT", "abc")

	if got := envInt("TEST_INT", 7); got != 7 {
		t.Errorf("envInt = %d, want 7", got)
	}
	if got := envFloat("TEST_FLOAT", 0.4); got != 0.4 {
		t.Errorf("envFloat = %v, want 0.4", got)
	}
	if got := envString("TEST_UNSET_STRING", "x"); got != "x" {
		t.Errorf("envString = %q, want x", got)
	}
}

func validConfig() *Config {
	return &Config{
		Database:   DatabaseConfig{Driver: "postgres", URL: "postgres://localhost/db"},
		Embedding:  EmbeddingConfig{Backend: "http"},
		Matching:   MatchingConfig{DuplicateScope: "role", Matcher: "linear"},
		Attendance: AttendanceConfig{Timezone: "UTC"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"memory needs no url", func(c *Config) { c.Database = DatabaseConfig{Driver: "memory"} }, ""},
		{"missing url", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL"},
		{"bad scope", func(c *Config) { c.Matching.DuplicateScope = "global" }, "DUPLICATE_SCOPE"},
		{"bad matcher", func(c *Config) { c.Matching.Matcher = "magic" }, "MATCHER"},
		{"pgvector without postgres", func(c *Config) {
			c.Database.Driver = "sqlite"
			c.Matching.Matcher = "pgvector"
		}, "requires DATABASE_DRIVER=postgres"},
		{"bad timezone", func(c *Config) { c.Attendance.Timezone = "Mars/Olympus" }, "ATTENDANCE_TIMEZONE"},
		{"bad backend", func(c *Config) { c.Embedding.Backend = "cloud" }, "EMBEDDING_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultSubjects(t *testing.T) {
	subjects := DefaultSubjects()
	if len(subjects) != 8 {
		t.Fatalf("expected 8 default subjects, got %d", len(subjects))
	}
	if subjects[0].Abbr != "TOC" || subjects[0].Code != "AD-501" {
		t.Errorf("unexpected first subject %+v", subjects[0])
	}
}

func TestLoadSubjects_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.yaml")
	content := "subjects:\n  - abbr: ' ds '\n    code: CS-1\n    name: Data Structures\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	subjects, err := LoadSubjects(path)
	if err != nil {
		t.Fatalf("LoadSubjects failed: %v", err)
	}
	if len(subjects) != 1 || subjects[0].Abbr != "DS" {
		t.Errorf("unexpected subjects %+v", subjects)
	}

	if _, err := LoadSubjects(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseSubjects_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing name": "subjects:\n  - abbr: ML\n",
		"duplicate":    "subjects:\n  - {abbr: ML, name: A}\n  - {abbr: ml, name: B}\n",
		"bad yaml":     "subjects: [",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSubjects([]byte(input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
