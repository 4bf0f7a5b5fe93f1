package export

import (
	"strings"
	"testing"
	"time"
)

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty body",
			input:    "",
			expected: "",
		},
		{
			name:     "simple paragraph",
			input:    "Hello world",
			expected: "<p>Hello world</p>",
		},
		{
			name:     "heading with level",
			input:    "## Section Title",
			expected: "<h2>Section Title</h2>",
		},
		{
			name:     "hash without space is not a heading",
			input:    "#tag",
			expected: "<p>#tag</p>",
		},
		{
			name:     "multi-line paragraph joins lines",
			input:    "line one\nline two",
			expected: "<p>line one line two</p>",
		},
		{
			name:     "fenced code block",
			input:    "```\nconst x = 1;\n```",
			expected: "<pre><code>const x = 1;\n</code></pre>",
		},
		{
			name:     "html is escaped",
			input:    "<script>alert(1)</script>",
			expected: "&lt;script&gt;alert(1)&lt;/script&gt;",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := string(markdownToHTML(tc.input))
			if !strings.Contains(got, tc.expected) {
				t.Errorf("markdownToHTML(%q) = %q, want to contain %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRenderPageHTML(t *testing.T) {
	html, err := RenderPageHTML(TemplateData{
		Path:        "/wiki/welcome",
		ContentHTML: markdownToHTML("# Welcome\n\nHello."),
		Author:      "alice",
		UpdatedAt:   time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RenderPageHTML() error = %v", err)
	}
	for _, want := range []string{"/wiki/welcome", "alice", "Mar 14, 2025", "<h1>Welcome</h1>", "<p>Hello.</p>"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"/wiki/getting started": "wiki-getting-started",
		"///":                   "page",
		"":                      "page",
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
