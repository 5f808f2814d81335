package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"flixor/internal/config"
	"flixor/internal/textutil"
)

const (
	downloadsSegment = "Downloads"
	moviesSegment    = "Movies"
	tvSegment        = "TV Shows"
)

// Store derives deterministic local paths for downloaded media and the shared
// artwork pool rooted at the configured directories.
type Store struct {
	baseDir    string
	artworkDir string
}

// New builds a Store from the configured paths.
func New(cfg *config.Config) *Store {
	return &Store{
		baseDir:    cfg.Paths.DownloadDir,
		artworkDir: cfg.Paths.ArtworkDir,
	}
}

// NewAt builds a Store rooted at explicit directories (used in tests).
func NewAt(baseDir, artworkDir string) *Store {
	return &Store{baseDir: baseDir, artworkDir: artworkDir}
}

// BaseDir returns the download root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// MoviePath derives the destination for a movie file:
// Downloads/Movies/{title} ({year})/{title}.{ext}
func (s *Store) MoviePath(title string, year int, ext string) string {
	clean := safeComponent(title, "Unknown Movie")
	folder := clean
	if year > 0 {
		folder = fmt.Sprintf("%s (%d)", clean, year)
	}
	return filepath.Join(s.baseDir, downloadsSegment, moviesSegment, folder, clean+normalizeExt(ext))
}

// EpisodePath derives the destination for an episode file:
// Downloads/TV Shows/{show} ({year})/Season {NN}/S{NN}E{NN} - {episode title}.{ext}
func (s *Store) EpisodePath(show string, year, season, episode int, episodeTitle, ext string) string {
	showClean := safeComponent(show, "Unknown Show")
	showFolder := showClean
	if year > 0 {
		showFolder = fmt.Sprintf("%s (%d)", showClean, year)
	}
	seasonFolder := fmt.Sprintf("Season %02d", season)
	name := fmt.Sprintf("S%02dE%02d", season, episode)
	if title := safeComponent(episodeTitle, ""); title != "" {
		name = fmt.Sprintf("%s - %s", name, title)
	}
	return filepath.Join(s.baseDir, downloadsSegment, tvSegment, showFolder, seasonFolder, name+normalizeExt(ext))
}

// ArtworkPath derives the shared-pool location for a source image. Two catalog
// entries pointing at the same (server, image) pair resolve to the same file.
func (s *Store) ArtworkPath(serverID, imageRef, ext string) string {
	sum := sha256.Sum256([]byte(serverID + imageRef))
	name := hex.EncodeToString(sum[:])[:32]
	return filepath.Join(s.artworkDir, name+normalizeExt(ext))
}

func safeComponent(value, fallback string) string {
	clean := textutil.SanitizeFileName(value)
	if clean == "" {
		return fallback
	}
	return clean
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(strings.ToLower(ext))
	if ext == "" {
		ext = "mp4"
	}
	return "." + strings.TrimPrefix(ext, ".")
}
