package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(pageTemplateHTML))

// TemplateData holds data for page template rendering.
type TemplateData struct {
	Path        string
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
}

// RenderPageHTML renders the page template with provided data.
func RenderPageHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// markdownToHTML is a minimal renderer for the print layout: headings, fenced
// code blocks, and paragraphs. Everything else stays literal text.
func markdownToHTML(body string) template.HTML {
	var out strings.Builder
	inCode := false
	var paragraph []string

	flush := func() {
		if len(paragraph) == 0 {
			return
		}
		out.WriteString("<p>")
		out.WriteString(template.HTMLEscapeString(strings.Join(paragraph, " ")))
		out.WriteString("</p>\n")
		paragraph = nil
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, " \t")

		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				out.WriteString("</code></pre>\n")
			} else {
				flush()
				out.WriteString("<pre><code>")
			}
			inCode = !inCode
			continue
		}
		if inCode {
			out.WriteString(template.HTMLEscapeString(line))
			out.WriteString("\n")
			continue
		}

		if level := headingLevel(trimmed); level > 0 {
			flush()
			text := strings.TrimSpace(trimmed[level:])
			tag := []string{"h1", "h2", "h3", "h4", "h5", "h6"}[level-1]
			out.WriteString("<" + tag + ">")
			out.WriteString(template.HTMLEscapeString(text))
			out.WriteString("</" + tag + ">\n")
			continue
		}

		if strings.TrimSpace(trimmed) == "" {
			flush()
			continue
		}
		paragraph = append(paragraph, strings.TrimSpace(trimmed))
	}
	if inCode {
		out.WriteString("</code></pre>\n")
	}
	flush()

	return template.HTML(out.String())
}

func headingLevel(line string) int {
	level := 0
	for level < len(line) && level < 6 && line[level] == '#' {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

const pageTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Path}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
  </style>
</head>
<body>
  <h1>{{.Path}}</h1>
  <div class="meta">{{.Author}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
