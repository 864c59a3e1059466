package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database   DatabaseConfig
	Embedding  EmbeddingConfig
	Matching   MatchingConfig
	Attendance AttendanceConfig
	Web        WebConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, mariadb, sqlite or memory (default postgres)
	URL          string // connection URL, DSN or SQLite file path
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	Backend        string // http or dlib (default http)
	URL            string // defaults to http://localhost:8000
	Dim            int    // defaults to 128
	ModelsDir      string // dlib model files
	MaxConcurrency int    // in-flight extraction requests (default 4)
	MaxSide        int    // longest image edge sent to the embedder (default 1024)
}

type MatchingConfig struct {
	DuplicateThreshold float64 // T_dup, default 0.4
	MatchThreshold     float64 // T_match, default 0.5
	DuplicateScope     string  // role or all
	Matcher            string  // linear, hnsw or pgvector
	Candidates         int     // candidates fetched by indexed matchers (default 10)
	HNSWIndexPath      string  // Path to persist the face HNSW index (optional)
}

type AttendanceConfig struct {
	Timezone       string // IANA zone used to derive the attendance day (default Local)
	DefaultSubject string // subject used when a kiosk sends none
	SubjectsFile   string // YAML catalog overriding the embedded one
}

type WebConfig struct {
	Port           int
	Host           string
	SessionSecret  string
	AllowedOrigins []string
	IdentifyRate   float64 // requests per second per client on /identify
	IdentifyBurst  int
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for part := range strings.SplitSeq(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       envString("DATABASE_DRIVER", "postgres"),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			Backend:        envString("EMBEDDING_BACKEND", "http"),
			URL:            os.Getenv("EMBEDDING_URL"),
			Dim:            envInt("EMBEDDING_DIM", 128),
			ModelsDir:      envString("EMBEDDING_MODELS_DIR", "models"),
			MaxConcurrency: envInt("EMBEDDING_MAX_CONCURRENCY", 4),
			MaxSide:        envInt("EMBEDDING_MAX_SIDE", 1024),
		},
		Matching: MatchingConfig{
			DuplicateThreshold: envFloat("DUPLICATE_THRESHOLD", 0.4),
			MatchThreshold:     envFloat("MATCH_THRESHOLD", 0.5),
			DuplicateScope:     envString("DUPLICATE_SCOPE", "role"),
			Matcher:            envString("MATCHER", "linear"),
			Candidates:         envInt("MATCHER_CANDIDATES", 10),
			HNSWIndexPath:      os.Getenv("HNSW_INDEX_PATH"),
		},
		Attendance: AttendanceConfig{
			Timezone:       envString("ATTENDANCE_TIMEZONE", "Local"),
			DefaultSubject: envString("DEFAULT_SUBJECT", "General"),
			SubjectsFile:   os.Getenv("SUBJECTS_FILE"),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8080),
			Host:           envString("WEB_HOST", "0.0.0.0"),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			IdentifyRate:   envFloat("IDENTIFY_RATE", 2),
			IdentifyBurst:  envInt("IDENTIFY_BURST", 5),
		},
	}
}

// Location resolves the attendance timezone.
func (c *AttendanceConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ATTENDANCE_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" && c.Database.Driver != "memory" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	switch c.Embedding.Backend {
	case "http", "dlib":
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_BACKEND must be http or dlib, got %q", c.Embedding.Backend))
	}
	switch c.Matching.DuplicateScope {
	case "role", "all":
	default:
		errs = append(errs, fmt.Errorf("DUPLICATE_SCOPE must be role or all, got %q", c.Matching.DuplicateScope))
	}
	switch c.Matching.Matcher {
	case "linear", "hnsw":
	case "pgvector":
		if c.Database.Driver != "postgres" {
			errs = append(errs, errors.New("MATCHER=pgvector requires DATABASE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("MATCHER must be linear, hnsw or pgvector, got %q", c.Matching.Matcher))
	}
	if _, err := c.Attendance.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
