package webfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func TestFind(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"explicit", "read https://example.com/a?b=1 now", []string{"https://example.com/a?b=1"}},
		{"trailing dot", "see http://example.com/page.", []string{"http://example.com/page"}},
		{"bare domain", "what's new on lemonde.fr today", []string{"lemonde.fr"}},
		{"www", "try www.example.org/x", []string{"www.example.org/x"}},
		{"file name", "open notes.txt please", nil},
		{"none", "hello there", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Find(tt.text); !slices.Equal(got, tt.want) {
				t.Errorf("Find(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestInline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Daily News</title><script>var x=1;</script></head>
			<body><nav>Menu</nav><p>Cats   are
			great.</p><footer>(c)</footer></body></html>`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := New(nil, nil)
	page := server.URL + "/page"
	got := f.Inline(context.Background(), "Summarize "+page+" please")
	if got != "Summarize : Daily News Cats are great. please" {
		t.Errorf("Inline() = %q", got)
	}

	missing := server.URL + "/missing"
	if got := f.Inline(context.Background(), "look at "+missing); got != "look at "+missing {
		t.Errorf("failed fetch changed text: %q", got)
	}
}

func TestSummarizeFollowsFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Blog</title>
			<link rel="alternate" type="application/rss+xml" href="/feed.xml"></head>
			<body><p>Front page</p></body></html>`)
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<rss><channel><item><description>Latest post about Go</description></item></channel></rss>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	got, err := New(nil, nil).Summarize(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Latest post about Go") || strings.Contains(got, "Front page") {
		t.Errorf("Summarize() = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	f := New(nil, nil)
	f.maxChars = 3
	if got := f.truncate("héllo"); got != "hél" {
		t.Errorf("truncate() = %q", got)
	}
}
