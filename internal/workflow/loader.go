package workflow

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/delegate-run/delegate/internal/paths"
)

// document is the on-disk shape of a workflow definition file.
type document struct {
	Name    string  `yaml:"name"`
	Version int     `yaml:"version"`
	Stages  []Stage `yaml:"stages"`
}

// LoadBuiltinWorkflows loads every workflow definition embedded with the
// binary.
func LoadBuiltinWorkflows() ([]*Definition, error) {
	return loadFromFS(builtinTemplates, "templates", SourceBuiltIn)
}

func loadFromFS(fsys fs.FS, dir string, source Source) ([]*Definition, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading workflow directory: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		// Use path.Join (not filepath.Join): embedded filesystems always
		// use forward slashes regardless of host OS.
		fsPath := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(fsys, fsPath)
		if err != nil {
			return nil, fmt.Errorf("reading workflow file %s: %w", fsPath, err)
		}

		def, err := parseDefinition(content, entry.Name(), source)
		if err != nil {
			// A malformed built-in is a packaging bug, not something
			// that should take the whole daemon down.
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseDefinition(content []byte, filename string, source Source) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}

	id := doc.Name
	if id == "" {
		id = strings.TrimSuffix(filename, ".yaml")
	}

	def := &Definition{ID: id, Version: doc.Version, Stages: doc.Stages, Source: source}
	def.index()
	if err := def.validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ParseDefinitionFile parses a workflow definition read from disk,
// recording its source path for diagnostics.
func ParseDefinitionFile(content []byte, filename, filePath string, source Source) (*Definition, error) {
	def, err := parseDefinition(content, filename, source)
	if err != nil {
		return nil, err
	}
	def.FilePath = filePath
	return def, nil
}

// LoadUserWorkflows loads operator-supplied workflow definitions from
// <home>/protected/workflows/. Returns an empty slice, not an error, when
// the directory doesn't exist.
func LoadUserWorkflows(home string) ([]*Definition, error) {
	return LoadUserWorkflowsFromDir(paths.UserWorkflowsDir(home))
}

// LoadUserWorkflowsFromDir loads workflow definitions from a specific
// directory. Returns an empty slice, not an error, when dir doesn't
// exist. Definitions with invalid bodies are skipped.
func LoadUserWorkflowsFromDir(dir string) ([]*Definition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking workflow directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workflow path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading workflow directory: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(filePath) //nolint:gosec // filePath built from a validated directory listing
		if err != nil {
			continue
		}

		def, err := ParseDefinitionFile(content, entry.Name(), filePath, SourceUser)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}
