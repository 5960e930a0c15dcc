package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// Downloader fetches remote documents with retries on 5xx and network errors
type Downloader struct {
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewDownloader creates a new Downloader
func NewDownloader(timeout time.Duration, retries int, logger *slog.Logger) *Downloader {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}

	return &Downloader{client: client, logger: logger}
}

// Fetch opens rawURL and returns the body with the extension derived from Content-Type
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", domain.Validationf("file_url must be an http(s) URL")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", domain.NewRetryableError(fmt.Errorf("failed to download file_url: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", domain.Validationf("file_url returned status %d", resp.StatusCode)
	}

	ext, err := extFromContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, "", err
	}

	d.logger.Debug("Remote document fetched",
		slog.String("host", u.Host),
		slog.String("ext", ext),
		slog.Int64("content_length", resp.ContentLength),
	)

	return resp.Body, ext, nil
}

// extFromContentType maps "image/jpeg" to "jpeg" and rejects anything unsupported
func extFromContentType(contentType string) (string, error) {
	if contentType == "" {
		return "", domain.Validationf("file_url response has no Content-Type")
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", domain.Validationf("file_url response has an invalid Content-Type")
	}

	_, subtype, ok := strings.Cut(mediaType, "/")
	ext := strings.ToLower(subtype)
	if !ok || !domain.IsSupportedExt(ext) {
		return "", domain.Validationf("unsupported file format: %s", mediaType)
	}

	return ext, nil
}
