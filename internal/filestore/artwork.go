package filestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"flixor/internal/fileutil"
)

// ArtworkFetcher retrieves a source image over the network. The media source
// client satisfies this with an authenticated GET.
type ArtworkFetcher interface {
	FetchImage(ctx context.Context, imageRef string) (io.ReadCloser, error)
}

// LocalizeArtwork downloads the image behind (serverID, imageRef) into the
// shared pool, skipping the network entirely when the computed path already
// exists. Returns the local path.
func (s *Store) LocalizeArtwork(ctx context.Context, fetcher ArtworkFetcher, serverID, imageRef string) (string, error) {
	if strings.TrimSpace(imageRef) == "" {
		return "", fmt.Errorf("localize artwork: empty image reference")
	}

	dest := s.ArtworkPath(serverID, imageRef, extForImageRef(imageRef))
	if fileutil.Exists(dest) {
		return dest, nil
	}

	if err := fileutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", fmt.Errorf("localize artwork: %w", err)
	}

	body, err := fetcher.FetchImage(ctx, imageRef)
	if err != nil {
		return "", fmt.Errorf("localize artwork: %w", err)
	}
	defer body.Close()

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("localize artwork: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("localize artwork: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("localize artwork: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("localize artwork: %w", err)
	}
	return dest, nil
}

func extForImageRef(imageRef string) string {
	ext := strings.ToLower(path.Ext(imageRef))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return strings.TrimPrefix(ext, ".")
	default:
		return "jpg"
	}
}

// HTTPImageFetcher fetches images from absolute URLs; used when the source
// hands back fully resolved image locations.
type HTTPImageFetcher struct {
	Client *http.Client
}

func (f *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
