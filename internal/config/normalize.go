package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePlex()
	c.normalizeDownloads()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtworkDir) == "" {
		c.Paths.ArtworkDir = defaultArtworkDir
	}
	if c.Paths.ArtworkDir, err = expandPath(c.Paths.ArtworkDir); err != nil {
		return fmt.Errorf("paths.artwork_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizePlex() {
	c.Plex.URL = strings.TrimRight(strings.TrimSpace(c.Plex.URL), "/")
	c.Plex.Token = strings.TrimSpace(c.Plex.Token)
	if c.Plex.Token == "" {
		if value, ok := os.LookupEnv("PLEX_TOKEN"); ok {
			c.Plex.Token = strings.TrimSpace(value)
		}
	}
	if c.Plex.ImageWidth <= 0 {
		c.Plex.ImageWidth = defaultPlexImageWidth
	}
	if c.Plex.TimeoutSec <= 0 {
		c.Plex.TimeoutSec = defaultPlexTimeoutSec
	}
}

func (c *Config) normalizeDownloads() {
	if c.Downloads.MaxConcurrent <= 0 {
		c.Downloads.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Downloads.MinFreeMiB < 0 {
		c.Downloads.MinFreeMiB = 0
	}
	if c.Downloads.ProgressIntervalMS <= 0 {
		c.Downloads.ProgressIntervalMS = defaultProgressIntervalMS
	}
	if c.Downloads.ProgressDeltaPercent <= 0 {
		c.Downloads.ProgressDeltaPercent = defaultProgressDeltaPercent
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
