package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// boilerplate is removed before text extraction.
const boilerplate = "script, style, noscript, iframe, nav, footer, header, head, meta, link, svg, form, template, [aria-hidden=true]"

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Aside: true, atom.Ul: true, atom.Ol: true,
	atom.Table: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true,
	atom.Dl: true, atom.Dt: true, atom.Dd: true, atom.Figure: true,
	atom.Figcaption: true, atom.Address: true, atom.Hr: true,
}

var headingLevel = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// HTMLToText strips markup and boilerplate from an HTML page and returns
// plain text with one line per block. Headings keep a markdown "#" prefix so
// the extractor can localize fields by section.
func HTMLToText(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", eris.Wrap(err, "normalize: parse html")
	}
	doc.Find(boilerplate).Remove()

	w := &blockWriter{}
	for _, n := range doc.Nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.lines, "\n"), nil
}

type blockWriter struct {
	lines  []string
	cur    strings.Builder
	prefix string
}

func (w *blockWriter) walk(n *html.Node) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		switch {
		case n.DataAtom == atom.Br:
			w.flush()
			return
		case headingLevel[n.DataAtom] > 0:
			w.flush()
			w.prefix = strings.Repeat("#", headingLevel[n.DataAtom]) + " "
			w.children(n)
			w.flush()
			return
		case n.DataAtom == atom.Li:
			w.flush()
			w.prefix = "- "
			w.children(n)
			w.flush()
			return
		case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
			if w.cur.Len() > 0 {
				w.cur.WriteString(" | ")
			}
			w.children(n)
			return
		case n.DataAtom == atom.Img:
			for _, a := range n.Attr {
				if a.Key == "alt" && strings.TrimSpace(a.Val) != "" {
					w.text(a.Val)
				}
			}
			return
		case blockTags[n.DataAtom]:
			w.flush()
			w.children(n)
			w.flush()
			return
		}
	}
	w.children(n)
}

func (w *blockWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *blockWriter) text(s string) {
	words := strings.Fields(s)
	if len(words) == 0 {
		return
	}
	if w.cur.Len() == 0 {
		w.cur.WriteString(w.prefix)
		w.prefix = ""
	} else if !strings.HasSuffix(w.cur.String(), " ") {
		w.cur.WriteByte(' ')
	}
	w.cur.WriteString(strings.Join(words, " "))
}

func (w *blockWriter) flush() {
	line := strings.TrimSpace(w.cur.String())
	w.cur.Reset()
	w.prefix = ""
	if line == "" || line == "|" {
		return
	}
	w.lines = append(w.lines, line)
}

// LooksLikeHTML guesses whether raw content is markup.
func LooksLikeHTML(contentType, raw string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(raw))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.Contains(head, "<html") ||
		strings.Contains(head, "<body") ||
		(strings.HasPrefix(head, "<") && strings.Contains(head, "</"))
}
