package verification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxImageBytes caps snapshot downloads
const maxImageBytes = 10 << 20

// HTTPImageFetcher downloads snapshots over HTTP(S)
type HTTPImageFetcher struct {
	httpClient *http.Client
}

// NewHTTPImageFetcher creates a fetcher bounded by timeout
func NewHTTPImageFetcher(timeout time.Duration) *HTTPImageFetcher {
	return &HTTPImageFetcher{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch downloads ref. The content type defaults to image/jpeg.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, ref string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Image{}, fmt.Errorf("invalid image reference: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("image is empty")
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return Image{Data: data, MimeType: mimeType}, nil
}
