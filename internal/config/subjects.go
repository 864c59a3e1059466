package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
	"gopkg.in/yaml.v3"
)

//go:embed subjects.yaml
var subjectsYAML []byte

type subjectCatalog struct {
	Subjects []database.Subject `yaml:"subjects"`
}

// DefaultSubjects returns the embedded subject catalog.
func DefaultSubjects() []database.Subject {
	subjects, err := ParseSubjects(subjectsYAML)
	if err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to parse embedded subjects.yaml: " + err.Error())
	}
	return subjects
}

// LoadSubjects reads the catalog at path, or the embedded one when path is empty.
func LoadSubjects(path string) ([]database.Subject, error) {
	if path == "" {
		return DefaultSubjects(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading subjects file: %w", err)
	}
	return ParseSubjects(data)
}

// ParseSubjects decodes and validates a YAML catalog.
func ParseSubjects(data []byte) ([]database.Subject, error) {
	var catalog subjectCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing subjects: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Subjects))
	for i := range catalog.Subjects {
		s := &catalog.Subjects[i]
		s.Abbr = strings.ToUpper(strings.TrimSpace(s.Abbr))
		s.Code = strings.TrimSpace(s.Code)
		s.Name = strings.TrimSpace(s.Name)
		if s.Abbr == "" || s.Name == "" {
			return nil, fmt.Errorf("subject %d: abbr and name are required", i+1)
		}
		if seen[s.Abbr] {
			return nil, fmt.Errorf("subject %d: duplicate abbreviation %s", i+1, s.Abbr)
		}
		seen[s.Abbr] = true
	}
	return catalog.Subjects, nil
}
