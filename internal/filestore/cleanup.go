package filestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RemoveMediaFile deletes a downloaded video file and prunes parent
// directories that the deletion left empty. Pruning cascades one level at a
// time (season folder, then show folder) and only removes a directory after a
// listing proves it is empty; it never forces removal of non-empty
// directories and never ascends past the download root.
func (s *Store) RemoveMediaFile(videoPath string) error {
	if strings.TrimSpace(videoPath) == "" {
		return nil
	}
	if err := os.Remove(videoPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	root := filepath.Join(s.baseDir, downloadsSegment)
	dir := filepath.Dir(videoPath)
	for i := 0; i < 2; i++ {
		if !within(root, dir) || dir == root {
			break
		}
		empty, err := dirIsEmpty(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				dir = filepath.Dir(dir)
				continue
			}
			return err
		}
		if !empty {
			break
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// RemoveArtworkFile deletes a pooled artwork file. Shared artwork may be
// referenced by other downloads, so callers only invoke this when no other
// record points at the same path.
func (s *Store) RemoveArtworkFile(artworkPath string) error {
	if strings.TrimSpace(artworkPath) == "" {
		return nil
	}
	if !within(s.artworkDir, artworkPath) {
		return nil
	}
	if err := os.Remove(artworkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func dirIsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
