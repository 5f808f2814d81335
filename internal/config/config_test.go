package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadUsesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, exists, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Error("missing file reported as existing")
	}
	if path == "" {
		t.Error("resolved path is empty")
	}
	if cfg.Paths.APIBind != defaultAPIBind {
		t.Errorf("api_bind = %q, want default %q", cfg.Paths.APIBind, defaultAPIBind)
	}
	if cfg.Downloads.MaxConcurrent != defaultMaxConcurrent {
		t.Errorf("max_concurrent = %d, want default %d", cfg.Downloads.MaxConcurrent, defaultMaxConcurrent)
	}
	if !filepath.IsAbs(cfg.Paths.DownloadDir) {
		t.Errorf("download_dir not expanded: %q", cfg.Paths.DownloadDir)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
download_dir = "` + dir + `/media"
log_dir = "` + dir + `/logs"
api_bind = "127.0.0.1:9900"

[downloads]
max_concurrent = 3
min_free_mib = 1024

[plex]
url = "http://plex.local:32400/"
token = "abc123"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Errorf("resolved=%q exists=%v", resolved, exists)
	}
	if cfg.Paths.APIBind != "127.0.0.1:9900" {
		t.Errorf("api_bind = %q", cfg.Paths.APIBind)
	}
	if cfg.Downloads.MaxConcurrent != 3 || cfg.Downloads.MinFreeMiB != 1024 {
		t.Errorf("downloads section not applied: %+v", cfg.Downloads)
	}
	// Trailing slash on the server URL is trimmed during normalization.
	if cfg.Plex.URL != "http://plex.local:32400" {
		t.Errorf("plex url = %q", cfg.Plex.URL)
	}
	if cfg.Plex.Token != "abc123" {
		t.Errorf("plex token = %q", cfg.Plex.Token)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad log format",
			content: "[logging]\nformat = \"xml\"\n",
			wantErr: "logging.format",
		},
		{
			name:    "bad log level",
			content: "[logging]\nlevel = \"verbose\"\n",
			wantErr: "logging.level",
		},
		{
			name:    "delta percent above 100",
			content: "[downloads]\nprogress_delta_percent = 150.0\n",
			wantErr: "progress_delta_percent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeReadsPlexTokenFromEnv(t *testing.T) {
	t.Setenv("PLEX_TOKEN", "env-token")

	cfg := Default()
	cfg.Paths.DownloadDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Plex.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Plex.Token)
	}
}

func TestNormalizeKeepsExplicitTokenOverEnv(t *testing.T) {
	t.Setenv("PLEX_TOKEN", "env-token")

	cfg := Default()
	cfg.Paths.DownloadDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Plex.Token = "explicit"
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Plex.Token != "explicit" {
		t.Errorf("token = %q, want explicit", cfg.Plex.Token)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Paths.DownloadDir = filepath.Join(base, "media")
	cfg.Paths.ArtworkDir = filepath.Join(base, "artwork")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DownloadDir, cfg.Paths.ArtworkDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %q not created: %v", dir, err)
		}
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := Load(path); err != nil || !exists {
		t.Errorf("sample config did not load: exists=%v err=%v", exists, err)
	}
}
