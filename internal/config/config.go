package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, read from environment
// variables with the defaults the deployment has always used.
type Config struct {
	StoragePath string
	DatabaseURL string
	RedisAddr   string
	Timezone    string

	FFmpegThreads int

	StreamValidateOnSchedule     bool
	StreamValidateOnExecute      bool
	StreamValidateTimeoutSeconds int

	Transcribe Transcribe
	Dropbox    Dropbox
}

// Transcribe holds the speech-recognition settings.
type Transcribe struct {
	Enabled           bool
	Model             string
	Language          string
	Device            string
	ComputeType       string
	BeamSize          int
	BestOf            int
	VAD               bool
	VADMinSilenceMS   int
	ChunkLength       int
	TextUpdateSeconds int
	MaxConcurrent     int
}

// Dropbox holds the optional remote archival settings.
type Dropbox struct {
	UploadEnabled          bool
	AccessToken            string
	AudioPath              string
	AudioLayout            string
	DeleteLocalAfterUpload bool
	LocalRetentionDays     int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("STORAGE_PATH", "./storage")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("TIMEZONE", "America/Fortaleza")
	v.SetDefault("FFMPEG_THREADS", 0)

	v.SetDefault("STREAM_VALIDATE_ON_SCHEDULE", false)
	v.SetDefault("STREAM_VALIDATE_ON_EXECUTE", false)
	v.SetDefault("STREAM_VALIDATE_TIMEOUT_SECONDS", 8)

	v.SetDefault("TRANSCRIBE_ENABLED", true)
	v.SetDefault("TRANSCRIBE_MODEL", "tiny")
	v.SetDefault("TRANSCRIBE_LANGUAGE", "pt")
	v.SetDefault("TRANSCRIBE_DEVICE", "cpu")
	v.SetDefault("TRANSCRIBE_COMPUTE_TYPE", "int8")
	v.SetDefault("TRANSCRIBE_BEAM_SIZE", 1)
	v.SetDefault("TRANSCRIBE_BEST_OF", 1)
	v.SetDefault("TRANSCRIBE_VAD", true)
	v.SetDefault("TRANSCRIBE_VAD_MIN_SILENCE_MS", 500)
	v.SetDefault("TRANSCRIBE_CHUNK_LENGTH", 15)
	v.SetDefault("TRANSCRIBE_TEXT_UPDATE_SECONDS", 10)
	v.SetDefault("TRANSCRIBE_MAX_CONCURRENT", 1)

	v.SetDefault("DROPBOX_UPLOAD_ENABLED", false)
	v.SetDefault("DROPBOX_ACCESS_TOKEN", "")
	v.SetDefault("DROPBOX_AUDIO_PATH", "/clipradio/audio")
	v.SetDefault("DROPBOX_AUDIO_LAYOUT", "flat")
	v.SetDefault("DROPBOX_DELETE_LOCAL_AFTER_UPLOAD", true)
	v.SetDefault("DROPBOX_LOCAL_RETENTION_DAYS", 0)

	cfg := &Config{
		StoragePath:                  v.GetString("STORAGE_PATH"),
		DatabaseURL:                  v.GetString("DATABASE_URL"),
		RedisAddr:                    v.GetString("REDIS_ADDR"),
		Timezone:                     v.GetString("TIMEZONE"),
		FFmpegThreads:                v.GetInt("FFMPEG_THREADS"),
		StreamValidateOnSchedule:     v.GetBool("STREAM_VALIDATE_ON_SCHEDULE"),
		StreamValidateOnExecute:      v.GetBool("STREAM_VALIDATE_ON_EXECUTE"),
		StreamValidateTimeoutSeconds: v.GetInt("STREAM_VALIDATE_TIMEOUT_SECONDS"),
		Transcribe: Transcribe{
			Enabled:           v.GetBool("TRANSCRIBE_ENABLED"),
			Model:             v.GetString("TRANSCRIBE_MODEL"),
			Language:          v.GetString("TRANSCRIBE_LANGUAGE"),
			Device:            v.GetString("TRANSCRIBE_DEVICE"),
			ComputeType:       v.GetString("TRANSCRIBE_COMPUTE_TYPE"),
			BeamSize:          v.GetInt("TRANSCRIBE_BEAM_SIZE"),
			BestOf:            v.GetInt("TRANSCRIBE_BEST_OF"),
			VAD:               v.GetBool("TRANSCRIBE_VAD"),
			VADMinSilenceMS:   v.GetInt("TRANSCRIBE_VAD_MIN_SILENCE_MS"),
			ChunkLength:       v.GetInt("TRANSCRIBE_CHUNK_LENGTH"),
			TextUpdateSeconds: v.GetInt("TRANSCRIBE_TEXT_UPDATE_SECONDS"),
			MaxConcurrent:     v.GetInt("TRANSCRIBE_MAX_CONCURRENT"),
		},
		Dropbox: Dropbox{
			UploadEnabled:          v.GetBool("DROPBOX_UPLOAD_ENABLED"),
			AccessToken:            v.GetString("DROPBOX_ACCESS_TOKEN"),
			AudioPath:              v.GetString("DROPBOX_AUDIO_PATH"),
			AudioLayout:            v.GetString("DROPBOX_AUDIO_LAYOUT"),
			DeleteLocalAfterUpload: v.GetBool("DROPBOX_DELETE_LOCAL_AFTER_UPLOAD"),
			LocalRetentionDays:     v.GetInt("DROPBOX_LOCAL_RETENTION_DAYS"),
		},
	}

	if cfg.StreamValidateTimeoutSeconds < 2 {
		cfg.StreamValidateTimeoutSeconds = 2
	}
	if cfg.Transcribe.MaxConcurrent < 1 {
		cfg.Transcribe.MaxConcurrent = 1
	}
	if cfg.Transcribe.TextUpdateSeconds < 1 {
		cfg.Transcribe.TextUpdateSeconds = 1
	}
	if cfg.Transcribe.BeamSize < 1 {
		cfg.Transcribe.BeamSize = 1
	}
	if cfg.Dropbox.LocalRetentionDays < 0 {
		cfg.Dropbox.LocalRetentionDays = 0
	}

	return cfg, nil
}

// AudioDir is where capture output files land.
func (c *Config) AudioDir() string {
	return filepath.Join(c.StoragePath, "audio")
}

// TranscriptDir is where segment sidecar files land.
func (c *Config) TranscriptDir() string {
	return filepath.Join(c.StoragePath, "transcripts")
}

// ValidateTimeout is the stream-probe timeout as a duration.
func (c *Config) ValidateTimeout() time.Duration {
	return time.Duration(c.StreamValidateTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
