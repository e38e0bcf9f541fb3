package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrInvalidURL is returned for seeds that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid url")

// ValidateURL checks that raw is an absolute http or https URL. An empty
// path becomes "/", so the seed shares the Domain prefix of its links.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return u, nil
}

// Domain returns the scheme://host/ prefix every crawled URL must share.
func Domain(u *url.URL) string {
	return u.Scheme + "://" + u.Host + "/"
}

// ExtractLinks returns the distinct same-domain targets of <a href> in
// page, in document order. Relative links resolve against base. Fragments
// are dropped so anchors on one page do not count as separate pages.
func ExtractLinks(page string, base *url.URL, domain string) []string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var (
		links []string
		seen  = map[string]bool{}
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if link, ok := resolve(base, attr.Val, domain); ok && !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func resolve(base *url.URL, href, domain string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	link := abs.String()
	if !strings.HasPrefix(link, domain) {
		return "", false
	}
	return link, true
}
