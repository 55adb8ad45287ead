package classifier

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
)

const defaultMaxSummaryLen = 280

// Readability fetches a URL and derives a short summary and a coarse type
// from the response.
type Readability struct {
	httpClient    *http.Client
	maxSummaryLen int
}

// Option configures a Readability classifier.
type Option func(*Readability)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Readability) {
		r.httpClient.Timeout = d
	}
}

// WithMaxSummaryLength sets the maximum summary length in runes.
func WithMaxSummaryLength(n int) Option {
	return func(r *Readability) {
		r.maxSummaryLen = n
	}
}

// NewReadability creates a classifier backed by go-readability.
func NewReadability(opts ...Option) *Readability {
	r := &Readability{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		maxSummaryLen: defaultMaxSummaryLen,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify fetches rawURL. HTML pages are run through readability; other
// media types are classified from their Content-Type alone.
func (r *Readability) Classify(ctx context.Context, rawURL string) (string, string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", TypeUnknown, fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", TypeUnknown, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; URL-Digest-Bot/1.0)")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", TypeUnknown, fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", TypeUnknown, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	mediaType := mediaTypeOf(resp.Header.Get("Content-Type"))
	if typ := typeFromMedia(mediaType); typ != TypePage {
		return "", typ, nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", TypePage, fmt.Errorf("parse content: %w", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if text == "" {
		return strings.TrimSpace(article.Title), TypePage, nil
	}
	return truncate(text, r.maxSummaryLen), TypeArticle, nil
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return "text/html"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}

func typeFromMedia(mt string) string {
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		return TypePage
	case mt == "application/pdf":
		return TypePDF
	case strings.HasPrefix(mt, "image/"):
		return TypeImage
	case strings.HasPrefix(mt, "video/"):
		return TypeVideo
	case strings.HasPrefix(mt, "audio/"):
		return TypeAudio
	default:
		return TypeUnknown
	}
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
