package fetch

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxLinks = 50

var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Form:     true,
}

type page struct {
	title string
	text  string
	links []string
}

type extractor struct {
	base  *url.URL
	w     strings.Builder
	links []string
	seen  map[string]bool
	pre   int
}

// extractHTML reduces a document to lightly marked-up text: headings
// become "#" lines, list items "- " lines and preformatted blocks are
// kept verbatim. Absolute link targets are collected in document order.
func extractHTML(raw string, base *url.URL) page {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return page{text: cleanWhitespace(raw)}
	}
	e := &extractor{base: base, seen: map[string]bool{}}
	e.walk(doc)
	return page{
		title: strings.TrimSpace(textOf(find(doc, atom.Title))),
		text:  cleanWhitespace(e.w.String()),
		links: e.links,
	}
}

func (e *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if e.pre > 0 {
			e.w.WriteString(n.Data)
			return
		}
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			e.w.WriteString(text)
			e.w.WriteString(" ")
		}
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
	}

	if n.Type == html.ElementNode {
		e.open(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}
	if n.Type == html.ElementNode {
		e.close(n)
	}
}

func (e *extractor) open(n *html.Node) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		e.w.WriteString("\n\n" + strings.Repeat("#", level) + " ")
	case atom.Li:
		e.w.WriteString("\n- ")
	case atom.Pre:
		e.pre++
		e.w.WriteString("\n\n```\n")
	case atom.Br:
		e.w.WriteString("\n")
	case atom.A:
		e.addLink(attr(n, "href"))
	default:
		if isBlock(n.DataAtom) {
			e.w.WriteString("\n\n")
		}
	}
}

func (e *extractor) close(n *html.Node) {
	switch n.DataAtom {
	case atom.Pre:
		e.pre--
		e.w.WriteString("\n```\n\n")
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.P, atom.Tr:
		e.w.WriteString("\n")
	}
}

func (e *extractor) addLink(href string) {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || len(e.links) >= maxLinks {
		return
	}
	u, err := url.Parse(href)
	if err != nil {
		return
	}
	if e.base != nil {
		u = e.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return
	}
	u.Fragment = ""
	s := u.String()
	if !e.seen[s] {
		e.seen[s] = true
		e.links = append(e.links, s)
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.Blockquote, atom.Ul, atom.Ol, atom.Table, atom.Tr,
		atom.Dl, atom.Dd, atom.Dt, atom.Figure, atom.Figcaption,
		atom.Details, atom.Summary, atom.Hr:
		return true
	}
	return false
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
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

// cleanWhitespace trims trailing spaces from each line and collapses
// runs of blank lines to one. Fenced blocks keep their inner spacing.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "```" {
			inFence = !inFence
			out = append(out, "```")
			blank = false
			continue
		}
		if inFence {
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
