package bili_archiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSpeedCheckSize         = 1 << 20
	DefaultMinSpeedThreshold      = 3 << 20
	DefaultMaxReconnectAttempts   = 2
	DefaultMaxConcurrentVideoJobs = 8

	DefaultAPIBaseURL     = "https://api.bilibili.com"
	DefaultReferer        = "https://www.bilibili.com/"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultCookieDomain   = "bilibili.com"
	DefaultTargetTemplate = "{{.Title}} [{{.ID}}].mp4"
	DefaultTempPattern    = "bili-archiver-*"
)

type Config struct {
	SpeedCheckSize         int64 `mapstructure:"speed_check_size_bytes"`
	MinSpeedThreshold      int64 `mapstructure:"min_speed_threshold_bytes_per_sec"`
	MaxReconnectAttempts   int   `mapstructure:"max_reconnect_attempts"`
	MaxConcurrentVideoJobs int   `mapstructure:"max_concurrent_video_jobs"`

	APIBaseURL     string        `mapstructure:"api_base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Referer        string        `mapstructure:"referer"`
	CookieDomain   string        `mapstructure:"cookie_domain"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	TempDir        string `mapstructure:"temp_dir"`
	TargetDir      string `mapstructure:"target_dir"`
	TargetTemplate string `mapstructure:"target_template"`
	FFmpegPath     string `mapstructure:"ffmpeg_path"`

	// Minimum interval between progress emissions for a single transfer.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	// Partial downloads older than this are reclaimed by the orphan sweep.
	OrphanMaxAge time.Duration `mapstructure:"orphan_max_age"`
}

func DefaultConfig() Config {
	return Config{
		SpeedCheckSize:         DefaultSpeedCheckSize,
		MinSpeedThreshold:      DefaultMinSpeedThreshold,
		MaxReconnectAttempts:   DefaultMaxReconnectAttempts,
		MaxConcurrentVideoJobs: DefaultMaxConcurrentVideoJobs,
		APIBaseURL:             DefaultAPIBaseURL,
		UserAgent:              DefaultUserAgent,
		Referer:                DefaultReferer,
		CookieDomain:           DefaultCookieDomain,
		RequestTimeout:         15 * time.Second,
		TempDir:                os.TempDir(),
		TargetDir:              ".",
		TargetTemplate:         DefaultTargetTemplate,
		FFmpegPath:             "ffmpeg",
		ProgressInterval:       500 * time.Millisecond,
		OrphanMaxAge:           24 * time.Hour,
	}
}

// LoadConfig reads configuration from an optional YAML file and BILI_ARCHIVER_* environment variables, on top of
// DefaultConfig. An empty path looks for bili-archiver.yaml in the working directory, and its absence is not an error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("speed_check_size_bytes", defaults.SpeedCheckSize)
	v.SetDefault("min_speed_threshold_bytes_per_sec", defaults.MinSpeedThreshold)
	v.SetDefault("max_reconnect_attempts", defaults.MaxReconnectAttempts)
	v.SetDefault("max_concurrent_video_jobs", defaults.MaxConcurrentVideoJobs)
	v.SetDefault("api_base_url", defaults.APIBaseURL)
	v.SetDefault("user_agent", defaults.UserAgent)
	v.SetDefault("referer", defaults.Referer)
	v.SetDefault("cookie_domain", defaults.CookieDomain)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("temp_dir", defaults.TempDir)
	v.SetDefault("target_dir", defaults.TargetDir)
	v.SetDefault("target_template", defaults.TargetTemplate)
	v.SetDefault("ffmpeg_path", defaults.FFmpegPath)
	v.SetDefault("progress_interval", defaults.ProgressInterval)
	v.SetDefault("orphan_max_age", defaults.OrphanMaxAge)

	v.SetEnvPrefix("BILI_ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bili-archiver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.SpeedCheckSize <= 0:
		return fmt.Errorf("invalid config: speed_check_size_bytes must be positive")
	case c.MinSpeedThreshold < 0:
		return fmt.Errorf("invalid config: min_speed_threshold_bytes_per_sec must not be negative")
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("invalid config: max_reconnect_attempts must not be negative")
	case c.MaxConcurrentVideoJobs <= 0:
		return fmt.Errorf("invalid config: max_concurrent_video_jobs must be positive")
	}
	if _, err := c.targetTemplate(); err != nil {
		return fmt.Errorf("invalid config: target_template: %w", err)
	}
	return nil
}

// TargetPath renders TargetTemplate for the resolved video, inside TargetDir.
func (c *Config) TargetPath(meta TrackMetadata) (string, error) {
	tmpl, err := c.targetTemplate()
	if err != nil {
		return "", err
	}
	args := targetFileTemplateArgs{
		ID:        meta.ID,
		Title:     sanitizeFilename(meta.Title),
		ContentID: meta.ContentID,
	}
	builder := strings.Builder{}
	if err := tmpl.Execute(&builder, &args); err != nil {
		return "", err
	}
	return filepath.Join(c.TargetDir, builder.String()), nil
}

func (c *Config) targetTemplate() (*template.Template, error) {
	return template.New("target_file").Parse(c.TargetTemplate)
}

type targetFileTemplateArgs struct {
	ID        VideoID
	Title     string
	ContentID int64
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFilename(s string) string {
	return strings.TrimSpace(filenameReplacer.Replace(s))
}
