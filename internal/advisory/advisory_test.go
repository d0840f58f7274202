package advisory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/user/rungov/internal/types"
)

func TestNormalizeHTML(t *testing.T) {
	got, err := Normalize("text/html; charset=utf-8", `<h1>Spindle</h1><p>Replace <b>bearing</b> after run.</p>`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "# Spindle") {
		t.Errorf("expected markdown heading, got %q", got)
	}
	if !strings.Contains(got, "**bearing**") {
		t.Errorf("expected bold text, got %q", got)
	}
	if strings.Contains(got, "<p>") {
		t.Errorf("html tags left in %q", got)
	}
}

func TestNormalizePlainText(t *testing.T) {
	got, err := Normalize("", "  <b>not html</b>\n")
	if err != nil {
		t.Fatal(err)
	}
	if got != "<b>not html</b>" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body string
	}{
		{"empty", "", "   "},
		{"empty html", "text/html", "<p> </p>"},
		{"too long", "", strings.Repeat("x", MaxBodyChars+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.ct, tt.body)
			var ve *types.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h2>Bulletin 7</h2><p>Feed limits lowered.</p></body></html>`))
	}))
	defer server.Close()

	got, err := NewFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Bulletin 7") || !strings.Contains(got, "Feed limits lowered.") {
		t.Errorf("unexpected body %q", got)
	}
}

func TestFetchTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxBodyChars+100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(long))
	}))
	defer server.Close()

	got, err := NewFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > MaxBodyChars {
		t.Errorf("expected truncation, got length %d", len(got))
	}
	if !strings.HasSuffix(got, "[Content truncated]") {
		t.Errorf("missing truncation marker")
	}
}

func TestFetchTruncatesOnRuneBoundary(t *testing.T) {
	// Two-byte runes start on even offsets; the cut point is odd.
	long := strings.Repeat("é", MaxBodyChars)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(long))
	}))
	defer server.Close()

	got, err := NewFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated body is not valid UTF-8")
	}
	if len(got) > MaxBodyChars {
		t.Errorf("expected at most %d bytes, got %d", MaxBodyChars, len(got))
	}
	if !strings.HasSuffix(got, "[Content truncated]") {
		t.Errorf("missing truncation marker")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short", "héllo", 50, "héllo"},
		{"ascii", strings.Repeat("x", 30), 25, "xxxx" + truncatedMarker},
		{"backs off mid rune", "xxxxé" + strings.Repeat("y", 30), len(truncatedMarker) + 5, "xxxx" + truncatedMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.text, tt.limit)
			if got != tt.want {
				t.Errorf("truncate = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("invalid UTF-8 in %q", got)
			}
		})
	}
}

func TestFetchStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	if _, err := NewFetcher().Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}
