// Package manifest handles tvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Name is the manifest file name looked up next to a program.
const Name = "tvm.toml"

// Manifest represents a tvm.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Limits  Limits  `toml:"limits"`
	Trace   Trace   `toml:"trace"`
	History History `toml:"history"`

	// Dir is the directory containing the tvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// Limits bounds one execution. Zero max-steps means unlimited.
type Limits struct {
	MaxFrames int    `toml:"max-frames"`
	MaxStack  int    `toml:"max-stack"`
	MaxSteps  uint64 `toml:"max-steps"`
}

// Trace toggles the diagnostic side channel.
type Trace struct {
	Calls       bool `toml:"calls"`
	Breakpoints bool `toml:"breakpoints"`
	Disassembly bool `toml:"disassembly"`
}

// History configures run-history recording.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the manifest used when no tvm.toml exists. Loading
// overlays file values on top of these.
func Default() Manifest {
	return Manifest{
		Limits: Limits{
			MaxFrames: 256,
			MaxStack:  1024,
		},
		Trace: Trace{
			Calls:       true,
			Breakpoints: true,
			Disassembly: true,
		},
		History: History{
			Path: filepath.Join(".tvm", "history.db"),
		},
	}
}

// Load parses the tvm.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, Name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a tvm.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, Name)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// HistoryPath returns the absolute path of the history database.
func (m *Manifest) HistoryPath() string {
	if filepath.IsAbs(m.History.Path) {
		return m.History.Path
	}
	return filepath.Join(m.Dir, m.History.Path)
}
