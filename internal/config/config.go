// Package config loads engine options from YAML files, validated against
// an embedded CUE schema so typos and out-of-range values fail at load
// time with a position, not mid-build.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/keelbuild/keel/internal/engine"
)

//go:embed options.cue
var optionsSchema string

// fileOptions is the YAML shape of a keel.yaml file.
type fileOptions struct {
	Threads       int                   `yaml:"threads"`
	Deterministic bool                  `yaml:"deterministic"`
	Database      string                `yaml:"database"`
	LineBuffering bool                  `yaml:"line_buffering"`
	Verbosity     string                `yaml:"verbosity"`
	Staunch       bool                  `yaml:"staunch"`
	Timings       bool                  `yaml:"timings"`
	Lint          string                `yaml:"lint"`
	Reports       []string              `yaml:"reports"`
	LiveFiles     []string              `yaml:"live_files"`
	Abbreviations []engine.Abbreviation `yaml:"abbreviations"`
}

// Load reads and validates an options file, returning engine options with
// defaults filled for everything the file leaves out.
func Load(path string) (engine.Options, error) {
	opts := engine.DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read options: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes options file contents. path only labels
// errors.
func Parse(path string, data []byte) (engine.Options, error) {
	opts := engine.DefaultOptions()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}
	if raw == nil {
		return opts, nil
	}

	if err := validate(path, raw); err != nil {
		return opts, err
	}

	var f fileOptions
	if err := yaml.Unmarshal(data, &f); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}

	opts.Threads = f.Threads
	opts.Deterministic = f.Deterministic
	opts.DatabasePath = f.Database
	opts.LineBuffering = f.LineBuffering
	opts.Staunch = f.Staunch
	opts.Timings = f.Timings
	opts.Reports = f.Reports
	opts.LiveFiles = f.LiveFiles
	opts.Abbreviations = f.Abbreviations

	if f.Verbosity != "" {
		v, err := engine.ParseVerbosity(f.Verbosity)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", path, err)
		}
		opts.Verbosity = v
	}
	if f.Lint != "" {
		m, err := engine.ParseLintMode(f.Lint)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", path, err)
		}
		opts.Lint = m
	}
	return opts, nil
}

// validate unifies the decoded YAML with the embedded schema. The schema
// definition is closed, so unknown fields fail here.
func validate(path string, raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(optionsSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal schema error: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Options"))
	if !def.Exists() {
		return fmt.Errorf("internal schema error: #Options not found")
	}

	val := ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s: invalid options: %w", path, err)
	}
	return nil
}
