// Package markup converts task descriptions between the lightweight markup
// users type and the HTML the server stores and renders.
//
// A stored description is shown for editing by rendering it to HTML and
// converting that HTML back to markup. The round trip canonicalises the text
// (line endings, emphasis markers, list bullets) so that what the user edits
// is what would be saved.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	renderer = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy = bluemonday.UGCPolicy()
)

// NormalizeCRLF collapses CRLF and lone CR line endings to LF.
func NormalizeCRLF(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ToHTML renders markup to sanitised HTML. Every newline inside a paragraph
// becomes a line break.
func ToHTML(src string) (string, error) {
	src = NormalizeCRLF(src)
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering markup: %w", err)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// ToMarkdown converts HTML back to markup.
func ToMarkdown(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	body := findBody(doc)
	if body == nil {
		return "", nil
	}
	return strings.Join(renderBlocks(body), "\n\n"), nil
}

// Canonical returns the editable form of stored markup: rendered to HTML and
// converted back.
func Canonical(src string) (string, error) {
	h, err := ToHTML(src)
	if err != nil {
		return "", err
	}
	return ToMarkdown(h)
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Hr,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

// renderBlocks renders the children of a block container. Runs of inline
// content between block elements become their own paragraph.
func renderBlocks(parent *html.Node) []string {
	var out []string
	var para strings.Builder
	flush := func() {
		if s := strings.TrimSpace(para.String()); s != "" {
			out = append(out, s)
		}
		para.Reset()
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && isBlock(c.DataAtom) {
			flush()
			if b := renderBlock(c); b != "" {
				out = append(out, b)
			}
			continue
		}
		writeInline(&para, c)
	}
	flush()
	return out
}

func renderBlock(n *html.Node) string {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		return strings.Repeat("#", level) + " " + strings.TrimSpace(inline(n))
	case atom.Blockquote:
		inner := strings.Join(renderBlocks(n), "\n\n")
		lines := strings.Split(inner, "\n")
		for i, l := range lines {
			if l == "" {
				lines[i] = ">"
			} else {
				lines[i] = "> " + l
			}
		}
		return strings.Join(lines, "\n")
	case atom.Pre:
		return "```\n" + strings.TrimSuffix(textContent(n), "\n") + "\n```"
	case atom.Ul, atom.Ol:
		return renderList(n)
	case atom.Hr:
		return "---"
	default:
		return strings.Join(renderBlocks(n), "\n\n")
	}
}

func renderList(n *html.Node) string {
	var items []string
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Li {
			continue
		}
		i++
		marker := "- "
		if n.DataAtom == atom.Ol {
			marker = fmt.Sprintf("%d. ", i)
		}
		body := strings.Join(renderBlocks(c), "\n")
		indent := strings.Repeat(" ", len(marker))
		body = strings.ReplaceAll(body, "\n", "\n"+indent)
		items = append(items, marker+body)
	}
	return strings.Join(items, "\n")
}

func inline(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeInline(&b, c)
	}
	return b.String()
}

func writeInline(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		writeText(b, n.Data)
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.Br:
		b.WriteString("\n")
	case atom.Strong, atom.B:
		wrap(b, "**", inline(n))
	case atom.Em, atom.I:
		wrap(b, "_", inline(n))
	case atom.Del, atom.S:
		wrap(b, "~~", inline(n))
	case atom.Code:
		wrap(b, "`", textContent(n))
	case atom.A:
		href := attr(n, "href")
		text := inline(n)
		if href == "" {
			b.WriteString(text)
			return
		}
		fmt.Fprintf(b, "[%s](%s)", text, href)
	case atom.Img:
		fmt.Fprintf(b, "![%s](%s)", attr(n, "alt"), attr(n, "src"))
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeInline(b, c)
		}
	}
}

func wrap(b *strings.Builder, marker, inner string) {
	if inner == "" {
		return
	}
	b.WriteString(marker)
	b.WriteString(inner)
	b.WriteString(marker)
}

// writeText copies a text node. A source newline is layout whitespace in
// HTML: dropped right after a line break, otherwise a space.
func writeText(b *strings.Builder, s string) {
	for _, r := range s {
		if r != '\n' {
			b.WriteRune(r)
			continue
		}
		cur := b.String()
		if cur == "" || strings.HasSuffix(cur, "\n") || strings.HasSuffix(cur, " ") {
			continue
		}
		b.WriteByte(' ')
	}
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
