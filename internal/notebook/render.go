package notebook

import (
	"bytes"
	"encoding/json"
	"html/template"
	"regexp"
	"strings"

	"github.com/inful/mdfp"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// RenderOptions tune the HTML report.
type RenderOptions struct {
	Title string
}

type renderedOutput struct {
	Kind  string
	Text  string
	HTML  template.HTML
	Image template.URL
}

type renderedCell struct {
	Type           string
	Source         string
	Markdown       template.HTML
	ExecutionCount *int
	Outputs        []renderedOutput
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="Content-Security-Policy" content="default-src 'none'; img-src data:; style-src 'unsafe-inline'">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;color:#222}
.cell{margin:1rem 0}
.prompt{color:#888;font-size:.8rem}
pre{background:#f6f8fa;padding:.75rem;overflow-x:auto}
pre.stderr,pre.error{background:#fdecea}
img{max-width:100%}
</style>
</head>
<body>
{{- range .Cells}}
<div class="cell {{.Type}}">
{{- if eq .Type "markdown"}}
{{.Markdown}}
{{- else if eq .Type "code"}}
<div class="prompt">In [{{if .ExecutionCount}}{{.ExecutionCount}}{{else}} {{end}}]:</div>
<pre class="source"><code>{{.Source}}</code></pre>
{{- range .Outputs}}
{{- if .HTML}}
<div class="output">{{.HTML}}</div>
{{- else if .Image}}
<img class="output" src="{{.Image}}" alt="">
{{- else}}
<pre class="{{.Kind}}">{{.Text}}</pre>
{{- end}}
{{- end}}
{{- else}}
<pre class="raw">{{.Source}}</pre>
{{- end}}
</div>
{{- end}}
</body>
</html>
`))

// Render converts an executed notebook into a self-contained HTML page. Markdown
// cells go through goldmark with raw HTML disabled; HTML outputs are sanitised.
// Without opts.Title the first markdown h1 becomes the page title.
func Render(doc *Document, opts RenderOptions) ([]byte, error) {
	title := opts.Title
	md := goldmark.New()
	cells := make([]renderedCell, 0, len(doc.Cells))
	for _, c := range doc.Cells {
		rc := renderedCell{Type: c.Type, Source: string(c.Source), ExecutionCount: c.ExecutionCount}
		switch c.Type {
		case CellMarkdown:
			var buf bytes.Buffer
			if err := md.Convert([]byte(c.Source), &buf); err != nil {
				return nil, ferrors.RenderError("failed to render markdown cell").WithCause(err).Build()
			}
			if title == "" {
				title = firstHeading(buf.Bytes())
			}
			rc.Markdown = template.HTML(buf.String()) //nolint:gosec // goldmark escapes raw HTML by default
		case CellCode:
			for _, o := range c.DecodedOutputs() {
				rc.Outputs = append(rc.Outputs, renderOutput(o))
			}
		}
		cells = append(cells, rc)
	}

	if title == "" {
		title = "Notebook report"
	}

	var out bytes.Buffer
	if err := reportTemplate.Execute(&out, struct {
		Title string
		Cells []renderedCell
	}{title, cells}); err != nil {
		return nil, ferrors.RenderError("failed to render notebook").WithCause(err).Build()
	}
	return out.Bytes(), nil
}

func renderOutput(o Output) renderedOutput {
	switch o.OutputType {
	case OutputStream:
		kind := "stdout"
		if o.Name == "stderr" {
			kind = "stderr"
		}
		return renderedOutput{Kind: kind, Text: string(o.Text)}
	case OutputError:
		text := o.EName + ": " + o.EValue
		if len(o.Traceback) > 0 {
			text = stripANSI(strings.Join(o.Traceback, "\n"))
		}
		return renderedOutput{Kind: "error", Text: text}
	case OutputExecuteResult, OutputDisplayData:
		if h, ok := o.MIMEText("text/html"); ok {
			return renderedOutput{Kind: "html", HTML: template.HTML(SanitizeHTML(h))} //nolint:gosec // sanitised
		}
		if img, ok := o.MIMEText("image/png"); ok {
			data := strings.Join(strings.Fields(img), "")
			return renderedOutput{Kind: "image", Image: template.URL("data:image/png;base64," + data)} //nolint:gosec // base64 payload
		}
		if text, ok := o.MIMEText("text/plain"); ok {
			return renderedOutput{Kind: "result", Text: text}
		}
		if raw, ok := o.Data["application/json"]; ok {
			var buf bytes.Buffer
			if json.Indent(&buf, raw, "", "  ") == nil {
				return renderedOutput{Kind: "result", Text: buf.String()}
			}
		}
		return renderedOutput{Kind: "result"}
	default:
		return renderedOutput{Kind: o.OutputType}
	}
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func stripANSI(s string) string { return ansiEscape.ReplaceAllString(s, "") }

var outputPolicy = newOutputPolicy()

// newOutputPolicy allows user-generated markup plus the table attributes
// dataframe reprs use. Links are limited to http, https and mailto.
func newOutputPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("border").OnElements("table")
	p.AllowDataURIImages()
	return p
}

// SanitizeHTML reduces an HTML output fragment to inert markup: no scripts,
// frames, forms, meta refreshes, event handlers or non-http URLs.
func SanitizeHTML(fragment string) string {
	return outputPolicy.Sanitize(fragment)
}

// firstHeading returns the text of the first h1 in an HTML fragment.
func firstHeading(fragment []byte) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(fragment), body)
	if err != nil {
		return ""
	}
	for _, n := range nodes {
		if h := findHeading(n); h != "" {
			return h
		}
	}
	return ""
}

func findHeading(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.H1 {
		var b strings.Builder
		collectText(n, &b)
		return strings.TrimSpace(b.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := findHeading(c); h != "" {
			return h
		}
	}
	return ""
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// Fingerprint returns a stable content fingerprint of a rendered report.
func Fingerprint(report []byte) string {
	return mdfp.CalculateFingerprintFromParts("", string(report))
}
