package config

const (
	defaultDownloadDir          = "~/.local/share/flixor"
	defaultArtworkDir           = "~/.local/share/flixor/artwork"
	defaultStateDir             = "~/.local/share/flixor/state"
	defaultLogDir               = "~/.local/share/flixor/logs"
	defaultAPIBind              = "127.0.0.1:7788"
	defaultPlexImageWidth       = 600
	defaultPlexTimeoutSec       = 30
	defaultMaxConcurrent        = 1
	defaultMinFreeMiB           = 512
	defaultProgressIntervalMS   = 500
	defaultProgressDeltaPercent = 2
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			ArtworkDir:  defaultArtworkDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Plex: Plex{
			ImageWidth: defaultPlexImageWidth,
			TimeoutSec: defaultPlexTimeoutSec,
		},
		Downloads: Downloads{
			MaxConcurrent:        defaultMaxConcurrent,
			MinFreeMiB:           defaultMinFreeMiB,
			ProgressIntervalMS:   defaultProgressIntervalMS,
			ProgressDeltaPercent: defaultProgressDeltaPercent,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
