package evaluator

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/net/html"
)

// PageSnapshot is a compact, model-facing rendition of the current page:
// title, description, and a cleaned outline of the semantic structure with
// the attributes needed for element targeting.
type PageSnapshot struct {
	Title       string
	Description string
	Outline     string
	Truncated   bool
}

// snapshotPage parses raw page HTML, strips scripts, styles, and other
// noise, and renders an indented outline. The outline is truncated to
// tokenBudget tokens using enc so large pages cannot blow the prompt.
func snapshotPage(rawHTML string, tokenBudget int, enc *tiktoken.Tiktoken) (*PageSnapshot, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	snap := &PageSnapshot{
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
	}

	var builder strings.Builder
	renderNode(doc, &builder, 0)
	snap.Outline = builder.String()

	if tokenBudget > 0 && enc != nil {
		tokens := enc.Encode(snap.Outline, nil, nil)
		if len(tokens) > tokenBudget {
			snap.Outline = enc.Decode(tokens[:tokenBudget]) + "\n[page truncated]"
			snap.Truncated = true
		}
	}

	return snap, nil
}

// renderNode walks the tree, emitting text and the opening tags of semantic
// elements with their targeting attributes.
func renderNode(n *html.Node, builder *strings.Builder, depth int) {
	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			builder.WriteString(text)
			builder.WriteString(" ")
		}
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		if blockElements[tag] {
			builder.WriteString("\n")
			builder.WriteString(strings.Repeat("  ", depth))
		}
		builder.WriteString("<")
		builder.WriteString(tag)
		for _, attr := range n.Attr {
			if preserveAttribute(tag, strings.ToLower(attr.Key)) {
				fmt.Fprintf(builder, " %s=%q", attr.Key, attr.Val)
			}
		}
		builder.WriteString(">")
		depth++
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(c, builder, depth)
	}
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"link":     true,
	"meta":     true,
}

var blockElements = map[string]bool{
	"div":        true,
	"p":          true,
	"section":    true,
	"article":    true,
	"header":     true,
	"footer":     true,
	"nav":        true,
	"main":       true,
	"aside":      true,
	"h1":         true,
	"h2":         true,
	"h3":         true,
	"h4":         true,
	"h5":         true,
	"h6":         true,
	"ul":         true,
	"ol":         true,
	"li":         true,
	"table":      true,
	"tr":         true,
	"form":       true,
	"fieldset":   true,
	"blockquote": true,
	"pre":        true,
}

// preserveAttribute keeps the attributes useful for selector targeting.
func preserveAttribute(tag, attr string) bool {
	switch attr {
	case "id", "class", "role", "aria-label":
		return true
	}
	if strings.HasPrefix(attr, "data-") {
		return true
	}

	switch tag {
	case "a":
		return attr == "href"
	case "img":
		return attr == "src" || attr == "alt"
	case "input", "textarea", "select":
		return attr == "name" || attr == "type" || attr == "placeholder" || attr == "value"
	case "button":
		return attr == "type" || attr == "name"
	case "form":
		return attr == "action" || attr == "method"
	}
	return false
}

func findTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

func findMetaDescription(doc *html.Node) string {
	var description string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if description != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var isDescription bool
			var content string
			for _, attr := range n.Attr {
				if attr.Key == "name" && attr.Val == "description" {
					isDescription = true
				}
				if attr.Key == "content" {
					content = attr.Val
				}
			}
			if isDescription {
				description = strings.TrimSpace(content)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return description
}
