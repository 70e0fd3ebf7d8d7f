package quality

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hiddenElements never contribute visible text.
var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// VisibleText returns the text content of an HTML fragment with
// whitespace collapsed. Plain text passes through unchanged apart from
// whitespace.
func VisibleText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	depth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if hiddenElements[atom.Lookup(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if hiddenElements[atom.Lookup(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
