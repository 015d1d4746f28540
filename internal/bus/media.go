package bus

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	// downloadTimeout bounds a single media fetch, redirects included.
	downloadTimeout = 60 * time.Second

	// maxImageDimension is the largest side kept for downloaded images;
	// bigger images are downscaled in place to keep prompts and disk small.
	maxImageDimension = 2048
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	underscoreRuns      = regexp.MustCompile(`_+`)
)

// SanitizeFilename strips a name down to filesystem-safe characters.
// Path separators and anything outside [A-Za-z0-9._-] become underscores,
// runs collapse, and an empty result falls back to "file".
func SanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "file"
	}
	return s
}

// UniqueFilename builds a collision-free media filename:
// {unix_ms_hex}_{hash8}_{sanitized}. A missing extension is guessed from the
// MIME type when one is known.
func UniqueFilename(name, mimeType string) string {
	sanitized := SanitizeFilename(name)

	sum := sha256.Sum256([]byte(sanitized + uuid.NewString()))
	unique := fmt.Sprintf("%x_%x_%s", time.Now().UnixMilli(), sum[:4], sanitized)

	if !strings.Contains(sanitized, ".") {
		if ext := extensionForMime(mimeType); ext != "" {
			unique += ext
		}
	}
	return unique
}

// MediaHint formats downloaded attachment names for appending to message
// content, e.g. "\n[Attached: photo.jpg, doc.pdf]". Empty input yields "".
func MediaHint(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return "\n[Attached: " + strings.Join(names, ", ") + "]"
}

// Downloader fetches channel media into the local media directory. One
// instance is shared across adapters; the HTTP client is created lazily and
// reused.
type Downloader struct {
	dir      string
	maxBytes int64

	mu     sync.Mutex
	client *http.Client
}

// NewDownloader creates a downloader writing into dir. maxFileSizeMB of 0
// means unlimited.
func NewDownloader(dir string, maxFileSizeMB int) *Downloader {
	return &Downloader{
		dir:      dir,
		maxBytes: int64(maxFileSizeMB) * 1024 * 1024,
	}
}

// Dir returns the media directory, creating it on first use.
func (d *Downloader) Dir() (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	return d.dir, nil
}

// SaveBytes writes raw media bytes under a unique name and returns the local
// path. Fails before writing when the payload exceeds the size limit.
func (d *Downloader) SaveBytes(data []byte, name, mimeType string) (string, error) {
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return "", fmt.Errorf("media size %d bytes exceeds limit %d bytes", len(data), d.maxBytes)
	}

	dir, err := d.Dir()
	if err != nil {
		return "", err
	}

	dest := filepath.Join(dir, UniqueFilename(name, mimeType))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}

	if strings.HasPrefix(mimeType, "image/") {
		downscaleImage(dest)
	}
	return dest, nil
}

// DownloadURL fetches a URL and saves the body. When name is empty it is
// inferred from the URL path; when mimeType is empty it comes from the
// Content-Type response header.
func (d *Downloader) DownloadURL(ctx context.Context, rawURL, name, mimeType string) (string, error) {
	return d.download(ctx, rawURL, "", name, mimeType)
}

// DownloadURLWithAuth is DownloadURL with an Authorization header, used by
// Slack and WhatsApp media endpoints.
func (d *Downloader) DownloadURLWithAuth(ctx context.Context, rawURL, authorization, name, mimeType string) (string, error) {
	return d.download(ctx, rawURL, authorization, name, mimeType)
}

// DownloadWhatsAppMedia resolves a WhatsApp Cloud API media ID to its
// temporary URL, then downloads it with the same bearer token.
func (d *Downloader) DownloadWhatsAppMedia(ctx context.Context, apiBase, mediaID, token, name, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/"+mediaID, nil)
	if err != nil {
		return "", fmt.Errorf("build media lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup whatsapp media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("lookup whatsapp media %s: status %d", mediaID, resp.StatusCode)
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("decode whatsapp media lookup: %w", err)
	}
	if meta.URL == "" {
		return "", fmt.Errorf("whatsapp media %s has no download url", mediaID)
	}

	if mimeType == "" {
		mimeType = meta.MimeType
	}
	return d.DownloadURLWithAuth(ctx, meta.URL, "Bearer "+token, name, mimeType)
}

func (d *Downloader) download(ctx context.Context, rawURL, authorization, name, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build media request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download media %s: status %d", rawURL, resp.StatusCode)
	}

	var body []byte
	if d.maxBytes > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return "", fmt.Errorf("read media body: %w", err)
	}

	if name == "" {
		name = nameFromURL(rawURL)
	}
	if mimeType == "" {
		ct := resp.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}

	return d.SaveBytes(body, name, mimeType)
}

// httpClient lazily creates the shared redirect-following client.
func (d *Downloader) httpClient() *http.Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		d.client = &http.Client{Timeout: downloadTimeout}
	}
	return d.client
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "file"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}

func extensionForMime(mimeType string) string {
	// Preferred extensions for the common channel media types; the mime
	// package can return unusual choices like ".jpe".
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// downscaleImage shrinks oversized images in place. Failures are logged and
// otherwise ignored; the original file stays usable.
func downscaleImage(dest string) {
	img, err := imaging.Open(dest)
	if err != nil {
		slog.Debug("media image decode skipped", "path", dest, "error", err)
		return
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDimension && bounds.Dy() <= maxImageDimension {
		return
	}

	resized := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	if err := imaging.Save(resized, dest); err != nil {
		slog.Warn("media image downscale failed", "path", dest, "error", err)
		return
	}
	slog.Debug("media image downscaled", "path", dest,
		"from", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()))
}
