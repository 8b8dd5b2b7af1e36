package scrape

import (
	"bytes"
	"net/url"
	"strings"

	"audimeta/pkg/domain"
	"golang.org/x/net/html"
)

// ParseGenres extracts category links from a page. On book pages the first
// category is the genre and the rest are tags; author pages only list genres.
func ParseGenres(page []byte, kind domain.Kind) ([]domain.Genre, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	var genres []domain.Genre
	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if id, ok := categoryID(attr(n, "href")); ok && !seen[id] {
				if name := strings.Join(strings.Fields(extractText(n)), " "); name != "" {
					seen[id] = true
					genres = append(genres, domain.Genre{ASIN: id, Name: name, Type: domain.GenreTypeTag})
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	for i := range genres {
		if kind == domain.KindAuthor || i == 0 {
			genres[i].Type = domain.GenreTypeGenre
		}
	}
	return genres, nil
}

// TextContent strips markup from an HTML fragment and collapses whitespace.
func TextContent(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{Type: html.ElementNode, Data: "body"})
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	var buf strings.Builder
	for _, n := range nodes {
		buf.WriteString(extractText(n))
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

// categoryID reads the numeric id at the end of a /cat/ link.
func categoryID(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil || !strings.Contains(u.Path, "/cat/") {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := segments[len(segments)-1]
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
