package newsfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/scanner"
)

func TestNewsAPIScannerParsesArticles(t *testing.T) {
	t.Parallel()

	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.Header.Get("X-Api-Key")
		if r.URL.Query().Get("sortBy") != "publishedAt" || r.URL.Query().Get("domains") != "bbc.co.uk" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","articles":[
			{"source":{"name":"BBC"},"title":"Streaming grows","description":"desc","url":"https://bbc.co.uk/a","publishedAt":"2026-10-17T08:00:00Z"},
			{"source":{"name":"X"},"title":"[Removed]","url":"https://x/removed"},
			{"source":{"name":""},"title":"No desc","content":"body [+10 chars]","url":"https://bbc.co.uk/b","publishedAt":"2026-10-16T08:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	s := NewNewsAPIScanner(srv.Client())
	got, err := s.Scan(context.Background(), scanner.Request{
		SourceName: "wire",
		URL:        srv.URL,
		APIKey:     "secret",
		Profile:    domain.TopicProfile{Keywords: []string{"streaming", "media analytics"}},
		Options:    map[string]string{"domains": "bbc.co.uk"},
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if gotKey != "secret" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if gotQuery != `streaming OR "media analytics"` {
		t.Fatalf("unexpected q: %s", gotQuery)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Source != "BBC" || got[0].RawExcerpt != "desc" || got[0].PublishedAt.IsZero() {
		t.Fatalf("unexpected first candidate: %+v", got[0])
	}
	if got[1].Source != "wire" || got[1].RawExcerpt != "body [+10 chars]" {
		t.Fatalf("unexpected second candidate: %+v", got[1])
	}
}

func TestNewsAPIScannerClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusBadGateway, transient: true},
		{status: http.StatusUnauthorized, transient: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"status":"error","code":"x","message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewNewsAPIScanner(srv.Client()).Scan(context.Background(), scanner.Request{
				SourceName: "wire",
				URL:        srv.URL,
				APIKey:     "k",
				Profile:    domain.TopicProfile{Keywords: []string{"a"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, domain.ErrTransientFetch) != tc.transient {
				t.Fatalf("transient=%v mismatch for %v", tc.transient, err)
			}
		})
	}
}

func TestNewsAPIScannerRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewNewsAPIScanner(nil).Scan(context.Background(), scanner.Request{
		SourceName: "wire",
		Profile:    domain.TopicProfile{Keywords: []string{"a"}},
	})
	if err == nil {
		t.Fatal("expected missing key error")
	}
}
