// Package advisory turns operator-supplied notes into the plain markdown body
// stored on an advisory link.
package advisory

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/rungov/internal/types"
)

// MaxBodyChars bounds a stored advisory body.
const MaxBodyChars = 50000

const truncatedMarker = "\n\n[Content truncated]"

// Normalize converts body to the stored form. HTML is converted to markdown;
// anything else is kept as text with surrounding whitespace trimmed.
func Normalize(contentType, body string) (string, error) {
	if len(body) > MaxBodyChars {
		return "", &types.ValidationError{Field: "body", Reason: fmt.Sprintf("exceeds %d characters", MaxBodyChars)}
	}
	text := body
	if isHTML(contentType) {
		md, err := htmltomarkdown.ConvertString(body)
		if err != nil {
			return "", &types.ValidationError{Field: "body", Reason: "convert html: " + err.Error()}
		}
		text = md
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &types.ValidationError{Field: "body", Reason: "is required"}
	}
	return text, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// Fetcher pulls a vendor bulletin or similar page and returns it as markdown.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with a 30 second timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads url and normalises it. Pages longer than MaxBodyChars are
// truncated rather than refused.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &types.ValidationError{Field: "url", Reason: "is required"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "rungov/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch advisory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch advisory: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*MaxBodyChars))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	// The read limit can split the final rune.
	text := strings.ToValidUTF8(string(body), "")
	if isHTML(resp.Header.Get("Content-Type")) {
		text, err = htmltomarkdown.ConvertString(text)
		if err != nil {
			return "", fmt.Errorf("convert to markdown: %w", err)
		}
	}
	text = strings.TrimSpace(text)
	return Normalize("text/markdown", truncate(text, MaxBodyChars))
}

// truncate shortens text to at most limit bytes, marker included, cutting on
// a rune boundary.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit - len(truncatedMarker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncatedMarker
}
