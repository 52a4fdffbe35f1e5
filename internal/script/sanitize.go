package script

import (
	"strings"

	"golang.org/x/net/html"
)

type SanitizeConfig struct {
	RemoveTags    []string
	RemoveAttrs   []string
	MaxOutputSize int
}

var DefaultSanitizeConfig = SanitizeConfig{
	RemoveTags: []string{
		"script", "style", "noscript", "svg", "iframe",
	},
	RemoveAttrs: []string{
		"style", "srcset", "sizes", "loading", "decoding", "fetchpriority", "tabindex",
	},
	MaxOutputSize: 130_000,
}

// Sanitize strips active content and presentation noise out of a page
// snapshot so extract_html payloads stay inert and bounded. A nil cfg
// uses the defaults.
func Sanitize(rawHTML string, cfg *SanitizeConfig) string {
	if cfg == nil {
		cfg = &DefaultSanitizeConfig
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return truncate(rawHTML, cfg.MaxOutputSize)
	}

	body := findBody(doc)
	if body == nil {
		return truncate(rawHTML, cfg.MaxOutputSize)
	}

	sanitizeNode(body, cfg)

	var sb strings.Builder
	_ = html.Render(&sb, body)
	return truncate(sb.String(), cfg.MaxOutputSize)
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func sanitizeNode(n *html.Node, cfg *SanitizeConfig) {
	if n.Type == html.CommentNode {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return
	}
	if n.Type != html.ElementNode {
		return
	}

	for _, tag := range cfg.RemoveTags {
		if n.Data == tag {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
			return
		}
	}

	n.Attr = filterAttrs(n.Attr, cfg)

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		sanitizeNode(c, cfg)
		c = next
	}
}

func filterAttrs(attrs []html.Attribute, cfg *SanitizeConfig) []html.Attribute {
	var kept []html.Attribute
	for _, attr := range attrs {
		if dropAttr(attr, cfg) {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

func dropAttr(attr html.Attribute, cfg *SanitizeConfig) bool {
	for _, r := range cfg.RemoveAttrs {
		if attr.Key == r {
			return true
		}
	}
	// Inline event handlers are the main reason snapshots cannot be
	// treated as inert.
	return strings.HasPrefix(attr.Key, "on") || strings.HasPrefix(attr.Key, "data-")
}

func truncate(s string, maxSize int) string {
	if maxSize > 0 && len(s) > maxSize {
		return s[:maxSize] + "\n<!-- truncated -->"
	}
	return s
}
