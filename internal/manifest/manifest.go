// Package manifest records which remote commit every source was last
// checked out at.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type SourceRef struct {
	URL       string `yaml:"url"`
	SHA       string `yaml:"sha"`
	UpdatedAt int64  `yaml:"updated_at"`
}

type Git struct {
	Sources map[string]SourceRef `yaml:"sources"`
}

// Read returns an empty manifest when filename does not exist.
func Read(filename string) (*Git, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Git{Sources: map[string]SourceRef{}}, nil
		}
		return nil, err
	}
	var m Git
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse git manifest %s: %w", filename, err)
	}
	if m.Sources == nil {
		m.Sources = map[string]SourceRef{}
	}
	return &m, nil
}

func Write(filename string, m *Git) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

func UpdateSource(filename, name, url, sha string) error {
	m, err := Read(filename)
	if err != nil {
		return err
	}
	m.Sources[name] = SourceRef{URL: url, SHA: sha, UpdatedAt: time.Now().Unix()}
	return Write(filename, m)
}
