package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatwoot-relay/internal/core/ports"
)

// DefaultShortenerEndpoint is the is.gd simple-format API
const DefaultShortenerEndpoint = "https://is.gd/create.php"

// IsGdShortener shortens links with is.gd and falls back to the original URL on any failure
type IsGdShortener struct {
	httpClient *http.Client
	endpoint   string
}

var _ ports.URLShortener = (*IsGdShortener)(nil)

func NewIsGdShortener(endpoint string, timeout time.Duration) *IsGdShortener {
	if endpoint == "" {
		endpoint = DefaultShortenerEndpoint
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IsGdShortener{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

func (s *IsGdShortener) Shorten(ctx context.Context, longURL string) string {
	q := url.Values{}
	q.Set("format", "simple")
	q.Set("url", longURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return longURL
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Warn("URL shortening failed, using original", "error", err)
		return longURL
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if err != nil || resp.StatusCode != http.StatusOK {
		slog.Warn("URL shortening failed, using original", "status", resp.StatusCode)
		return longURL
	}

	short := strings.TrimSpace(string(body))
	if !strings.HasPrefix(short, "http") {
		return longURL
	}
	return short
}
