// Package textnorm turns markup-bearing comment bodies into plain text.
package textnorm

import (
	"html"
	"io"
	"strings"
	"unicode"

	xhtml "golang.org/x/net/html"
)

// skipContent lists elements whose text content is never user prose.
var skipContent = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
	"template": true,
}

// blockElements break words when stripped, so "<p>a</p><p>b</p>" becomes "a b".
var blockElements = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "ul": true, "ol": true,
	"tr": true, "td": true, "th": true, "table": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "hr": true, "section": true, "article": true,
}

// Normalize strips all markup, decodes entities, collapses whitespace runs
// to a single space and trims both ends. Decoded entities can spell new
// markup ("&lt;b&gt;"), so passes repeat until the output is stable, which
// keeps Normalize(Normalize(x)) == Normalize(x). A pass that changes its
// input always shortens it, so the loop terminates.
func Normalize(raw string) string {
	out := strip(raw)
	for {
		next := strip(out)
		if next == out {
			return out
		}
		out = next
	}
}

func strip(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))

	z := xhtml.NewTokenizer(strings.NewReader(raw))
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if z.Err() != io.EOF {
				// The tokenizer only fails on read errors; fall back to the raw text.
				return collapse(html.UnescapeString(raw))
			}
			return collapse(b.String())
		case xhtml.TextToken:
			if skipDepth == 0 {
				// Tokenizer text is already entity-decoded.
				b.Write(z.Text())
			}
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipContent[tag] && tt == xhtml.StartTagToken {
				skipDepth++
			}
			if blockElements[tag] {
				b.WriteByte(' ')
			}
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipContent[tag] && skipDepth > 0 {
				skipDepth--
			}
			if blockElements[tag] {
				b.WriteByte(' ')
			}
		}
	}
}

// collapse folds every whitespace run (including NBSP) into one space.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == ' ' {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
