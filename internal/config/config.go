// Package config loads the YAML configuration file and validates it against
// an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

type Config struct {
	// Database is the SQLite backing store path.
	Database    string            `yaml:"database"`
	Index       IndexConfig       `yaml:"index"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Updater     UpdaterConfig     `yaml:"updater"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Admin       AdminConfig       `yaml:"admin"`
	Log         LogConfig         `yaml:"log"`
}

type IndexConfig struct {
	// Path is the bleve index directory. Empty keeps the index in memory.
	Path        string        `yaml:"path"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type NotifierConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchLimit   int           `yaml:"batch_limit"`
}

type UpdaterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ConsistencyConfig struct {
	// Interval between scheduled checks. Zero disables scheduling.
	Interval       time.Duration `yaml:"interval"`
	AutoRepair     bool          `yaml:"auto_repair"`
	AbortOnFailure bool          `yaml:"abort_on_failure"`
}

type AdminConfig struct {
	// Listen is the admin HTTP address. Empty disables the admin server.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Database: "vtkindex.db",
		Index: IndexConfig{
			Path:        "vtkindex.bleve",
			LockTimeout: 30 * time.Second,
		},
		Notifier: NotifierConfig{
			PollInterval: 5 * time.Second,
			BatchLimit:   1000,
		},
		Updater: UpdaterConfig{Enabled: true},
		Admin:   AdminConfig{Listen: "127.0.0.1:8425"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// ValidationError lists every schema violation found in a config file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config:\n  " + strings.Join(e.Problems, "\n  ")
}

// Load reads the file at path. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default().
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	err := value.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var problems []string
	for _, e := range errors.Errors(err) {
		problems = append(problems, strings.TrimSpace(errors.Details(e, nil)))
	}
	return &ValidationError{Problems: problems}
}
