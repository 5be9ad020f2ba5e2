package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads policies from Rego modules and from YAML or JSON policy
// definitions. Rego modules are named after their file and enforce by
// default; definitions carry their own name, severity and module.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// Supported reports whether name is a policy file.
func Supported(name string) bool {
	switch filepath.Ext(name) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromPaths loads the policies of every file or directory in paths.
// Missing paths are skipped. Below a directory, files that fail to load are
// logged and skipped; a named file that fails to load is an error.
func (l *Loader) LoadFromPaths(_ context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, root := range paths {
		info, err := os.Stat(root)
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Debug().Str("path", root).Msg("Policy path does not exist")
			continue
		}
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			p, err := l.loadFile(root)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", root, err)
			}
			out = append(out, *p)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !Supported(path) {
				return nil
			}
			p, err := l.loadFile(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			out = append(out, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	l.logger.Debug().Int("total", len(out)).Int("sources", len(paths)).Msg("Policies loaded from paths")
	return out, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = &Policy{
			Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
			Rego:     string(data),
			Severity: SeverityError,
			Enabled:  true,
		}
	case ".json":
		p, err = decodeDefinition(path, data, json.Unmarshal)
	case ".yaml", ".yml":
		p, err = decodeDefinition(path, data, yaml.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}
	if err != nil {
		return nil, err
	}

	module, err := ast.ParseModule(path, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("invalid rego: %w", err)
	}
	if p.Description == "" {
		p.Description = describe(module)
	}
	p.Source = path

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded from file")
	return p, nil
}

// definition is the YAML and JSON form of a policy. Enabled defaults to
// true, unlike the zero Policy.
type definition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Rego        string   `json:"rego" yaml:"rego"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Enabled     *bool    `json:"enabled" yaml:"enabled"`
}

func decodeDefinition(path string, data []byte, unmarshal func([]byte, any) error) (*Policy, error) {
	var d definition
	if err := unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse policy definition: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("policy definition %s has no name", filepath.Base(path))
	}
	p := &Policy{
		Name:        d.Name,
		Description: d.Description,
		Rego:        d.Rego,
		Severity:    d.Severity,
		Enabled:     d.Enabled == nil || *d.Enabled,
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return p, nil
}

// describe returns the first block of consecutive comment lines of a
// module, joined with spaces.
func describe(module *ast.Module) string {
	comments := append([]*ast.Comment(nil), module.Comments...)
	sort.Slice(comments, func(i, j int) bool {
		return comments[i].Location.Row < comments[j].Location.Row
	})

	var parts []string
	row := -1
	for _, c := range comments {
		if row >= 0 && c.Location.Row != row+1 {
			break
		}
		row = c.Location.Row
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
