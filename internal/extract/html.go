package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Link is an absolute hyperlink found on a page
type Link struct {
	URL  string
	Text string
}

// Page is a parsed HTML document with the URL it was fetched from
type Page struct {
	Doc  *goquery.Document
	base *url.URL
}

// Parse parses body as HTML served from pageURL
func Parse(body []byte, pageURL string) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{Doc: doc, base: base}, nil
}

// Find is shorthand for p.Doc.Find
func (p *Page) Find(selector string) *goquery.Selection {
	return p.Doc.Find(selector)
}

// Text returns the normalized text of the first match of selector
func (p *Page) Text(selector string) string {
	return Text(p.Doc.Find(selector).First())
}

// Resolve makes href absolute against the page URL. Fragments, script and
// mail links resolve to "".
func (p *Page) Resolve(href string) string {
	return resolveURL(p.base, strings.TrimSpace(href))
}

// Links returns the distinct absolute links of the anchors matched by
// selector, in page order
func (p *Page) Links(selector string) []Link {
	seen := make(map[string]bool)
	var links []Link
	p.Doc.Find(selector).Filter("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u := p.Resolve(href)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		links = append(links, Link{URL: u, Text: Text(a)})
	})
	return links
}

// Table returns the cell text of each row under selector. Header rows
// (th only) are skipped.
func (p *Page) Table(selector string) [][]string {
	var rows [][]string
	p.Doc.Find(selector).Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, Text(td))
		})
		rows = append(rows, row)
	})
	return rows
}

// Text is the whitespace-normalized text of s. Unlike Selection.Text, block
// elements and line breaks separate words.
func Text(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		nodeText(&b, n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"td": true, "th": true, "dd": true, "dt": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func nodeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		nodeText(b, c)
	}
	if block {
		b.WriteByte(' ')
	}
}

func resolveURL(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// MediaType guesses a document's media type from its URL
func MediaType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".htm", ".html", "":
		return "text/html"
	case ".txt":
		return "text/plain"
	}
	return ""
}
