// Package reference compares system identity files inside a chroot tree
// against the baseline copies shipped with the build configuration.
package reference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	PasswdFile = "etc/passwd"
	GroupFile  = "etc/group"
)

type Options struct {
	// CutNonexistentMembership drops group members that have no passwd entry.
	CutNonexistentMembership bool
	// DefaultHome replaces passwd home directories missing from the tree.
	DefaultHome string
}

type Diff struct {
	File  string
	Lines []string
}

type Comparator interface {
	Compare(root string, opts Options) ([]Diff, error)
}

type FileComparator struct {
	ReferenceDir string
	Files        []string
}

func NewFileComparator(referenceDir string) *FileComparator {
	return &FileComparator{
		ReferenceDir: referenceDir,
		Files:        []string{PasswdFile, GroupFile},
	}
}

func (c *FileComparator) Compare(root string, opts Options) ([]Diff, error) {
	users, err := readUsers(filepath.Join(root, PasswdFile))
	if err != nil {
		return nil, err
	}

	diffs := make([]Diff, 0, len(c.Files))
	for _, name := range c.Files {
		want, err := os.ReadFile(filepath.Join(c.ReferenceDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read reference file %s: %w", name, err)
		}

		got, err := os.ReadFile(filepath.Join(root, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		current := string(got)
		switch name {
		case PasswdFile:
			current = normalizePasswd(root, current, opts.DefaultHome)
		case GroupFile:
			if opts.CutNonexistentMembership {
				current = cutMembership(current, users)
			}
		}

		lines, err := unifiedDiff(name, string(want), current)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, Diff{File: name, Lines: lines})
	}

	return diffs, nil
}

func unifiedDiff(name, want, got string) ([]string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "reference/" + name,
		ToFile:   name,
		Context:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", name, err)
	}
	if text == "" {
		return nil, nil
	}
	return strings.Split(strings.TrimRight(text, "\n"), "\n"), nil
}

func readUsers(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	users := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if name, _, ok := strings.Cut(line, ":"); ok && name != "" {
			users[name] = true
		}
	}
	return users, nil
}

// passwd: name:password:uid:gid:gecos:home:shell
func normalizePasswd(root, content, defaultHome string) string {
	if defaultHome == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			continue
		}
		home := fields[5]
		if home == "" || home == defaultHome {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, home)); err != nil {
			fields[5] = defaultHome
			lines[i] = strings.Join(fields, ":")
		}
	}
	return strings.Join(lines, "\n")
}

// group: name:password:gid:member,member
func cutMembership(content string, users map[string]bool) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		fields := strings.Split(line, ":")
		if len(fields) != 4 || fields[3] == "" {
			continue
		}
		var kept []string
		for _, member := range strings.Split(fields[3], ",") {
			if users[member] {
				kept = append(kept, member)
			}
		}
		fields[3] = strings.Join(kept, ",")
		lines[i] = strings.Join(fields, ":")
	}
	return strings.Join(lines, "\n")
}
