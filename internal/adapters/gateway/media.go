package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"chatwoot-relay/internal/core/ports"
)

const (
	octetStream = "application/octet-stream"
	sniffLen    = 3072
)

// extContentTypes is the fallback when neither the server nor the bytes tell us the type
var extContentTypes = map[string]string{
	// Image types
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"svg":  "image/svg+xml",

	// Video types
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"wmv":  "video/x-ms-wmv",
	"flv":  "video/x-flv",

	// Audio types
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",

	// Document types
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"rtf":  "application/rtf",

	// Archives and executables
	"zip": "application/zip",
	"rar": "application/vnd.rar",
	"7z":  "application/x-7z-compressed",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	"exe": "application/x-msdownload",
	"apk": "application/vnd.android.package-archive",
	"dmg": "application/x-apple-diskimage",
}

// ContentTypeFromURL guesses a MIME type from the URL path extension
func ContentTypeFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ct, ok := extContentTypes[ext]; ok {
		return ct
	}
	return octetStream
}

// HTTPMediaFetcher downloads media over plain HTTP GET
type HTTPMediaFetcher struct {
	httpClient *http.Client
}

var _ ports.MediaFetcher = (*HTTPMediaFetcher)(nil)

func NewHTTPMediaFetcher(timeout time.Duration) *HTTPMediaFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPMediaFetcher{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch opens the media stream. The content type comes from the response
// header, then from the first bytes, then from the URL extension.
func (f *HTTPMediaFetcher) Fetch(ctx context.Context, mediaURL string) (*ports.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	if ct := headerContentType(resp.Header.Get("Content-Type")); ct != "" {
		return &ports.Media{Body: resp.Body, ContentType: ct}, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		resp.Body.Close()
		return nil, fmt.Errorf("read media: %w", err)
	}
	head = head[:n]

	ct := mimetype.Detect(head).String()
	if base, _, perr := mime.ParseMediaType(ct); perr == nil {
		ct = base
	}
	if ct == octetStream || ct == "" {
		ct = ContentTypeFromURL(mediaURL)
	}

	return &ports.Media{
		Body:        &prefixedBody{Reader: io.MultiReader(bytes.NewReader(head), resp.Body), closer: resp.Body},
		ContentType: ct,
	}, nil
}

// headerContentType returns the media type without parameters, "" when the
// header is missing or too generic to trust
func headerContentType(h string) string {
	if h == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(h)
	if err != nil || base == octetStream {
		return ""
	}
	return base
}

type prefixedBody struct {
	io.Reader
	closer io.Closer
}

func (b *prefixedBody) Close() error { return b.closer.Close() }
