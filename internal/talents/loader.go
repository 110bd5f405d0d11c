// Package talents loads markdown guidance documents and renders them as
// plain prompt text.
package talents

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Talent is one parsed markdown document.
type Talent struct {
	Name string   // file name without .md
	Tags []string // from frontmatter; nil means untagged
	Text string   // rendered plain text, frontmatter stripped
}

type frontmatter struct {
	Tags []string `yaml:"tags"`
}

// Load reads path, which may be a single markdown file or a directory
// of *.md files read in name order. A missing directory yields no
// talents; a missing file is an error.
func Load(path string) ([]Talent, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !strings.HasSuffix(path, ".md") {
			return nil, nil
		}
		return nil, fmt.Errorf("stat talents: %w", err)
	}
	if !info.IsDir() {
		t, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		return []Talent{t}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read talents dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	out := make([]Talent, 0, len(names))
	for _, name := range names {
		t, err := loadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func loadFile(path string) (Talent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Talent{}, fmt.Errorf("read talent: %w", err)
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Talent{}, fmt.Errorf("talent %s: %w", filepath.Base(path), err)
	}
	return Talent{
		Name: strings.TrimSuffix(filepath.Base(path), ".md"),
		Tags: fm.Tags,
		Text: Render([]byte(body)),
	}, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block from
// the document body. Documents without one are returned unchanged.
func splitFrontmatter(raw string) (frontmatter, string, error) {
	var fm frontmatter
	rest, ok := strings.CutPrefix(raw, "---")
	if !ok {
		return fm, raw, nil
	}
	rest = strings.TrimLeft(rest, " \t")
	switch {
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	default:
		return fm, raw, nil
	}

	head, body, ok := strings.Cut(rest, "\n---")
	if !ok {
		return fm, raw, nil
	}
	if err := yaml.Unmarshal([]byte(head), &fm); err != nil {
		return fm, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, strings.TrimLeft(body, "\r\n"), nil
}

// Matches reports whether t should load given the active tags.
// Untagged talents always match, as does every talent when active is
// empty.
func (t Talent) Matches(active []string) bool {
	if len(t.Tags) == 0 || len(active) == 0 {
		return true
	}
	for _, tag := range t.Tags {
		if slices.Contains(active, tag) {
			return true
		}
	}
	return false
}
