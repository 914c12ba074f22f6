package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"alertbot/internal/storage"
	"alertbot/pkg/logx"
)

func TestLongURLArticleTypes(t *testing.T) {
	t.Parallel()
	lb := NewLinkBuilder(logx.Nop())

	a := storage.Alert{AlertID: 42, PageUserID: 3, QueryID: 17}
	if got := lb.longURL(a); !strings.HasSuffix(got, "?n=42&u=3&c=17&m=i") {
		t.Errorf("default article type url = %q", got)
	}

	a.ArticleType = 3
	if got := lb.longURL(a); !strings.HasSuffix(got, "?n=42&u=3&c=17&m=audiovisual&lang=es") {
		t.Errorf("audiovisual article url = %q", got)
	}
}

func TestShortenSuccess(t *testing.T) {
	t.Parallel()
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		w.Write([]byte("https://is.gd/abc123\n"))
	}))
	defer srv.Close()

	lb := NewLinkBuilder(logx.Nop())
	lb.ShortenerURL = srv.URL
	lb.Retries, lb.Delay = 1, 0

	short := lb.Shorten(context.Background(), "http://example.com/verylong?a=1&b=2")
	if short != "https://is.gd/abc123" {
		t.Errorf("Shorten = %q", short)
	}
	if gotURL != "http://example.com/verylong?a=1&b=2" {
		t.Errorf("shortener received url %q", gotURL)
	}
}

func TestShortenRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("https://is.gd/retry"))
	}))
	defer srv.Close()

	lb := NewLinkBuilder(logx.Nop())
	lb.ShortenerURL = srv.URL
	lb.Retries, lb.Delay = 3, 0

	if got := lb.Shorten(context.Background(), "http://example.com/x"); got != "https://is.gd/retry" {
		t.Errorf("Shorten = %q after retries", got)
	}
	if calls != 3 {
		t.Errorf("shortener called %d times, want 3", calls)
	}
}

func TestShortenFallsBackToLongURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simple-format errors come back 200 with a plain message.
		w.Write([]byte("Error: Please enter a valid URL"))
	}))
	defer srv.Close()

	lb := NewLinkBuilder(logx.Nop())
	lb.ShortenerURL = srv.URL
	lb.Retries, lb.Delay = 2, 0

	long := "http://example.com/keep-me"
	if got := lb.Shorten(context.Background(), long); got != long {
		t.Errorf("Shorten = %q, want long url fallback", got)
	}
}
