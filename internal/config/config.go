// Package config defines the fieldcast configuration model and loading.
//
// Configuration is resolved by viper with the usual precedence: CLI flags
// override FIELDCAST_* environment variables, which override the YAML config
// file, which overrides built-in defaults. The resulting Config is immutable
// after startup.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root configuration for the fieldcast server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Playout     PlayoutConfig     `mapstructure:"playout"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Watchdog    WatchdogConfig    `mapstructure:"watchdog"`
	ErrorScreen ErrorScreenConfig `mapstructure:"error_screen"`
	Tuner       TunerConfig       `mapstructure:"tuner"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns the host:port listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the SQLite database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds subprocess binary paths and transcoder tuning.
type FFmpegConfig struct {
	FFmpegPath   string        `mapstructure:"ffmpeg_path"`
	FFprobePath  string        `mapstructure:"ffprobe_path"`
	YtdlpPath    string        `mapstructure:"ytdlp_path"`
	HWAccel      string        `mapstructure:"hwaccel"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// ResolverConfig holds source resolution settings.
type ResolverConfig struct {
	MetadataTimeout time.Duration     `mapstructure:"metadata_timeout"`
	ResolveTimeout  time.Duration     `mapstructure:"resolve_timeout"`
	ExpiryThreshold time.Duration     `mapstructure:"expiry_threshold"`
	RefreshInterval time.Duration     `mapstructure:"refresh_interval"`
	YoutubeCookies  string            `mapstructure:"youtube_cookies"`
	AllowedPaths    []string          `mapstructure:"allowed_paths"`
	Plex            CredentialsConfig `mapstructure:"plex"`
	Jellyfin        CredentialsConfig `mapstructure:"jellyfin"`
	Emby            CredentialsConfig `mapstructure:"emby"`
}

// CredentialsConfig holds an upstream media server endpoint and its token.
type CredentialsConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Token     string `mapstructure:"token"`
}

// PlayoutConfig holds schedule queue settings.
type PlayoutConfig struct {
	GapTolerance  time.Duration `mapstructure:"gap_tolerance"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	Retention     time.Duration `mapstructure:"retention"`
	GuideWindow   time.Duration `mapstructure:"guide_window"`
}

// DeliveryConfig holds throttled output settings.
type DeliveryConfig struct {
	ThrottleMode      string        `mapstructure:"throttle_mode"`
	TargetBitrate     ByteSize      `mapstructure:"target_bitrate"`
	BurstWindow       time.Duration `mapstructure:"burst_window"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	ClientBufferMax   ByteSize      `mapstructure:"client_buffer_max"`
	MinFlushSize      ByteSize      `mapstructure:"min_flush_size"`
}

// SessionsConfig holds client session lifecycle settings.
type SessionsConfig struct {
	MaxPerChannel   int           `mapstructure:"max_per_channel"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxRestarts     int           `mapstructure:"max_restarts"`
}

// WatchdogConfig holds stalled-process detection settings.
type WatchdogConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	OutputTimeout time.Duration `mapstructure:"output_timeout"`
	KillGrace     time.Duration `mapstructure:"kill_grace"`
}

// ErrorScreenConfig holds slate/placeholder generation settings.
type ErrorScreenConfig struct {
	VisualMode string `mapstructure:"visual_mode"`
	AudioMode  string `mapstructure:"audio_mode"`
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	FontFile   string `mapstructure:"font_file"`
	ImagePath  string `mapstructure:"image_path"`
	AudioFile  string `mapstructure:"audio_file"`
}

// TunerConfig holds HDHomeRun emulation settings for the discovery surface.
type TunerConfig struct {
	DeviceID     string `mapstructure:"device_id"`
	FriendlyName string `mapstructure:"friendly_name"`
	TunerCount   int    `mapstructure:"tuner_count"`
	BaseURL      string `mapstructure:"base_url"`
}

// SetDefaults registers default values on the given viper instance.
// Called before the config file is read so file/env values win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5004)

	v.SetDefault("database.path", "fieldcast.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.ytdlp_path", "yt-dlp")
	v.SetDefault("ffmpeg.hwaccel", "")
	v.SetDefault("ffmpeg.probe_timeout", 15*time.Second)

	v.SetDefault("resolver.metadata_timeout", 30*time.Second)
	v.SetDefault("resolver.resolve_timeout", 60*time.Second)
	v.SetDefault("resolver.expiry_threshold", 60*time.Minute)
	v.SetDefault("resolver.refresh_interval", 10*time.Minute)

	v.SetDefault("playout.gap_tolerance", time.Second)
	v.SetDefault("playout.prune_schedule", "0 4 * * *")
	v.SetDefault("playout.retention", 7*24*time.Hour)
	v.SetDefault("playout.guide_window", 12*time.Hour)

	v.SetDefault("delivery.throttle_mode", "realtime")
	v.SetDefault("delivery.target_bitrate", "4M")
	v.SetDefault("delivery.burst_window", 100*time.Millisecond)
	v.SetDefault("delivery.keepalive_interval", 5*time.Second)
	v.SetDefault("delivery.client_buffer_max", "2MiB")
	v.SetDefault("delivery.min_flush_size", "64KiB")

	v.SetDefault("sessions.max_per_channel", 50)
	v.SetDefault("sessions.idle_timeout", 300*time.Second)
	v.SetDefault("sessions.cleanup_interval", 60*time.Second)
	v.SetDefault("sessions.max_restarts", 10)

	v.SetDefault("watchdog.check_interval", 5*time.Second)
	v.SetDefault("watchdog.output_timeout", 30*time.Second)
	v.SetDefault("watchdog.kill_grace", 5*time.Second)

	v.SetDefault("error_screen.visual_mode", "text")
	v.SetDefault("error_screen.audio_mode", "silent")
	v.SetDefault("error_screen.width", 1280)
	v.SetDefault("error_screen.height", 720)

	v.SetDefault("tuner.device_id", "FC000001")
	v.SetDefault("tuner.friendly_name", "fieldcast")
	v.SetDefault("tuner.tuner_count", 4)
}

// Load unmarshals the effective viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints viper cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	switch c.Delivery.ThrottleMode {
	case "realtime", "burst", "adaptive", "disabled":
	default:
		return fmt.Errorf("delivery.throttle_mode %q is not one of realtime, burst, adaptive, disabled", c.Delivery.ThrottleMode)
	}
	if c.Delivery.TargetBitrate <= 0 {
		return fmt.Errorf("delivery.target_bitrate must be positive")
	}
	if c.Sessions.MaxPerChannel < 1 {
		return fmt.Errorf("sessions.max_per_channel must be at least 1")
	}
	if c.Watchdog.OutputTimeout < c.Watchdog.CheckInterval {
		return fmt.Errorf("watchdog.output_timeout must not be shorter than watchdog.check_interval")
	}
	for _, p := range c.Resolver.AllowedPaths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("resolver.allowed_paths entries must be absolute, got %q", p)
		}
	}
	switch c.ErrorScreen.VisualMode {
	case "text", "static", "smptebars", "black", "image", "slate":
	default:
		return fmt.Errorf("error_screen.visual_mode %q is not supported", c.ErrorScreen.VisualMode)
	}
	switch c.ErrorScreen.AudioMode {
	case "silent", "sine", "noise", "beep", "file":
	default:
		return fmt.Errorf("error_screen.audio_mode %q is not supported", c.ErrorScreen.AudioMode)
	}
	if c.ErrorScreen.VisualMode == "image" && c.ErrorScreen.ImagePath == "" {
		return fmt.Errorf("error_screen.image_path is required when visual_mode is image")
	}
	if c.ErrorScreen.AudioMode == "file" && c.ErrorScreen.AudioFile == "" {
		return fmt.Errorf("error_screen.audio_file is required when audio_mode is file")
	}
	return nil
}
