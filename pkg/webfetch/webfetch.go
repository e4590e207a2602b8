// Package webfetch replaces URLs in a chat request with a text summary of
// the page they point to.
//
// A page advertising an RSS or Atom feed is summarized from the feed
// instead. Fetch failures leave the URL untouched.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/teslashibe/go-hyperion/internal/httpc"
)

// Defaults for a Fetcher.
const (
	DefaultMaxChars = 4000
	maxBody         = 2 << 20
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// urlPattern matches explicit http(s) URLs, www. hosts and bare domains on
// common top-level domains.
var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://[^\s<>"']+|www\.[a-z0-9-]+(?:\.[a-z0-9-]+)+[^\s<>"']*|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|org|net|fr|io|dev|edu|gov|co|uk|de|info)(?:/[^\s<>"']*)?)\b/?`)

// Find returns the URLs mentioned in text, in order.
func Find(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// Fetcher downloads and summarizes pages.
type Fetcher struct {
	client   *http.Client
	maxChars int
	logger   *slog.Logger
}

// New creates a Fetcher. A nil client uses a 15 s timeout client.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = httpc.NewClient(15 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, maxChars: DefaultMaxChars, logger: logger.With("component", "webfetch")}
}

// Inline replaces every URL in text with ": <summary>". URLs that cannot
// be fetched are kept as they are.
func (f *Fetcher) Inline(ctx context.Context, text string) string {
	for _, raw := range Find(text) {
		summary, err := f.Summarize(ctx, normalize(raw))
		if err != nil {
			f.logger.Warn("url not inlined", "url", raw, "error", err)
			continue
		}
		text = strings.Replace(text, raw, ": "+summary, 1)
	}
	return text
}

// Summarize fetches u and returns its title and readable text, following
// the first advertised feed if there is one.
func (f *Fetcher) Summarize(ctx context.Context, u string) (string, error) {
	doc, err := f.fetch(ctx, u)
	if err != nil {
		return "", err
	}
	if feed := feedLink(doc); feed != "" {
		if abs, err := resolve(u, feed); err == nil {
			if feedDoc, err := f.fetch(ctx, abs); err == nil {
				return f.truncate(extractText(feedDoc)), nil
			}
		}
	}
	return f.truncate(extractText(doc)), nil
}

func (f *Fetcher) fetch(ctx context.Context, u string) (*html.Node, error) {
	resp, err := httpc.Get(ctx, f.client, u, http.Header{"User-Agent": {userAgent}})
	if err != nil {
		return nil, fmt.Errorf("webfetch: %w", err)
	}
	defer resp.Body.Close()
	doc, err := html.Parse(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("webfetch: parse %s: %w", u, err)
	}
	return doc, nil
}

func (f *Fetcher) truncate(s string) string {
	r := []rune(s)
	if len(r) <= f.maxChars {
		return s
	}
	return string(r[:f.maxChars])
}

func normalize(raw string) string {
	if strings.HasPrefix(strings.ToLower(raw), "http://") || strings.HasPrefix(strings.ToLower(raw), "https://") {
		return raw
	}
	return "http://" + raw
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// feedLink returns the href of the first RSS or Atom <link>.
func feedLink(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Link {
		var typ, href string
		for _, a := range n.Attr {
			switch a.Key {
			case "type":
				typ = a.Val
			case "href":
				href = a.Val
			}
		}
		if href != "" && (typ == "application/rss+xml" || typ == "application/atom+xml") {
			return href
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := feedLink(c); href != "" {
			return href
		}
	}
	return ""
}

// extractText collects visible text, skipping scripts, styles and
// navigation chrome, collapsing whitespace.
func extractText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Head:
				if n.DataAtom != atom.Head {
					return
				}
				// Keep the title from <head>.
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.DataAtom == atom.Title {
						walk(c)
					}
				}
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
