package talents

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestSplitFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantTags []string
		wantBody string
	}{
		{
			name:     "no frontmatter",
			raw:      "# Hello\n\nSome content.",
			wantBody: "# Hello\n\nSome content.",
		},
		{
			name:     "flow tags",
			raw:      "---\ntags: [home, physical]\n---\n# Device Control",
			wantTags: []string{"home", "physical"},
			wantBody: "# Device Control",
		},
		{
			name:     "block tags",
			raw:      "---\ntags:\n  - memory\n---\nContent here.",
			wantTags: []string{"memory"},
			wantBody: "Content here.",
		},
		{
			name:     "no closing delimiter",
			raw:      "---\ntags: [home]\nContent without close.",
			wantBody: "---\ntags: [home]\nContent without close.",
		},
		{
			name:     "extra fields ignored",
			raw:      "---\nauthor: test\ntags: [core]\npriority: 1\n---\nBody.",
			wantTags: []string{"core"},
			wantBody: "Body.",
		},
		{
			name:     "body starting with a list",
			raw:      "---\ntags: [a]\n---\n- first",
			wantTags: []string{"a"},
			wantBody: "- first",
		},
		{
			name:     "delimiter not at start",
			raw:      "Intro\n---\ntags: [a]\n---\n",
			wantBody: "Intro\n---\ntags: [a]\n---\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := splitFrontmatter(tt.raw)
			if err != nil {
				t.Fatalf("splitFrontmatter: %v", err)
			}
			if !slices.Equal(fm.Tags, tt.wantTags) {
				t.Errorf("tags = %v, want %v", fm.Tags, tt.wantTags)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestSplitFrontmatter_BadYAML(t *testing.T) {
	if _, _, err := splitFrontmatter("---\ntags: [unclosed\n---\nBody"); err == nil {
		t.Error("expected error for malformed frontmatter")
	}
}

func TestRender(t *testing.T) {
	src := "# Persona\n\nYou are *calm* and [precise](https://example.com).\nKeep answers short.\n\n" +
		"## Rules\n\n- Ask before acting\n- Cite sources\n  - nested detail\n\n" +
		"1. first\n2. second\n\n```\nexit 0\n```\n\n> quoted\n\n<div>html</div>\n"

	want := "Persona\n" +
		"You are calm and precise. Keep answers short.\n" +
		"Rules\n" +
		"- Ask before acting\n" +
		"- Cite sources\n" +
		"  - nested detail\n" +
		"1. first\n" +
		"2. second\n" +
		"exit 0\n" +
		"quoted"
	if got := Render([]byte(src)); got != want {
		t.Errorf("Render =\n%s\nwant\n%s", got, want)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "# Second")
	writeFile(t, dir, "a.md", "---\ntags: [home]\n---\n# First")
	writeFile(t, dir, "notes.txt", "ignored")
	os.Mkdir(filepath.Join(dir, "sub.md"), 0o755)

	ts, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ts) != 2 {
		t.Fatalf("got %d talents, want 2", len(ts))
	}
	if ts[0].Name != "a" || ts[0].Text != "First" || !slices.Equal(ts[0].Tags, []string{"home"}) {
		t.Errorf("ts[0] = %+v", ts[0])
	}
	if ts[1].Name != "b" || ts[1].Text != "Second" {
		t.Errorf("ts[1] = %+v", ts[1])
	}
}

func TestLoad_Missing(t *testing.T) {
	dir := t.TempDir()

	ts, err := Load(filepath.Join(dir, "nope"))
	if err != nil || ts != nil {
		t.Errorf("missing dir = %v, %v; want nil, nil", ts, err)
	}
	if _, err := Load(filepath.Join(dir, "nope.md")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestTalentMatches(t *testing.T) {
	untagged := Talent{Name: "base"}
	tagged := Talent{Name: "home", Tags: []string{"home", "iot"}}

	tests := []struct {
		talent Talent
		active []string
		want   bool
	}{
		{untagged, nil, true},
		{untagged, []string{"x"}, true},
		{tagged, nil, true},
		{tagged, []string{"iot"}, true},
		{tagged, []string{"email"}, false},
	}
	for _, tt := range tests {
		if got := tt.talent.Matches(tt.active); got != tt.want {
			t.Errorf("%s.Matches(%v) = %v, want %v", tt.talent.Name, tt.active, got, tt.want)
		}
	}
}

func TestSource_Gather(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1-core.md", "# Core\n\nBe brief.")
	writeFile(t, dir, "2-home.md", "---\ntags: [home]\n---\nLights are in the den.")
	writeFile(t, dir, "3-mail.md", "---\ntags: [email]\n---\nSign emails.")

	got, err := NewSource(dir, []string{"home"}).Gather(context.Background(), nil)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := "Core\nBe brief.\n\nLights are in the den."
	if got != want {
		t.Errorf("Gather = %q, want %q", got, want)
	}

	file := writeFile(t, dir, "solo.md", "Single file.")
	got, err = NewSource(file, nil).Gather(context.Background(), nil)
	if err != nil || got != "Single file." {
		t.Errorf("single file Gather = %q, %v", got, err)
	}
}
