// Package config loads the exporter configuration from defaults, an
// optional YAML file, environment variables, and command-line flags, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix namespaces the environment variables read by Load.
const envPrefix = "ANKIBRIDGE_"

// Config is the full configuration surface of an export run.
type Config struct {
	Source   string `koanf:"source" validate:"required"`
	Output   string `koanf:"output" validate:"required"`
	CacheDir string `koanf:"cache_dir" validate:"required"`
	Mappings string `koanf:"mappings"`

	MediaBaseURL string `koanf:"media_base_url" validate:"omitempty,url"`
	TokenURL     string `koanf:"token_url" validate:"omitempty,url"`
	RefreshToken string `koanf:"refresh_token"`

	IncludeImages bool `koanf:"include_images"`
	IncludeAudio  bool `koanf:"include_audio"`
	KeepSyntax    bool `koanf:"keep_syntax"`

	Preset                string  `koanf:"preset" validate:"omitempty,oneof=smaller normal better"`
	ConvertMedia          bool    `koanf:"convert_media"`
	EnableImageConversion bool    `koanf:"enable_image_conversion"`
	ImageMaxDimension     int     `koanf:"image_max_dimension" validate:"gt=0"`
	ImageQuality          int     `koanf:"image_quality" validate:"gt=0,lte=100"`
	AudioSampleRate       int     `koanf:"audio_sample_rate" validate:"gt=0"`
	MaxMediaSizeMB        float64 `koanf:"max_media_size_mb" validate:"gte=0"`

	MergeSelected    bool `koanf:"merge_selected"`
	UseTemplates     bool `koanf:"use_templates"`
	MediaWorkerCount int  `koanf:"media_worker_count" validate:"gte=1,lte=32"`
}

// MaxMediaSizeBytes converts the configured megabyte ceiling to bytes;
// zero means no limit.
func (c *Config) MaxMediaSizeBytes() int64 {
	return int64(c.MaxMediaSizeMB * 1024 * 1024)
}

// preset bundles the media-quality knobs the settings UI exposes as a
// single choice.
type preset struct {
	imageMaxDimension int
	imageQuality      int
	audioSampleRate   int
	maxMediaSizeMB    float64
	convert           bool
}

var presets = map[string]preset{
	"smaller": {800, 70, 16000, 3, true},
	"normal":  {1024, 85, 22050, 10, true},
	"better":  {2048, 95, 44100, 50, false},
}

// applyPreset overwrites the transcode knobs from a named preset.
func (c *Config) applyPreset(name string) error {
	p, ok := presets[name]
	if !ok {
		return fmt.Errorf("unknown preset %q", name)
	}
	c.ImageMaxDimension = p.imageMaxDimension
	c.ImageQuality = p.imageQuality
	c.AudioSampleRate = p.audioSampleRate
	c.MaxMediaSizeMB = p.maxMediaSizeMB
	c.ConvertMedia = p.convert
	c.EnableImageConversion = p.convert
	return nil
}

// Flags declares every config key as a pflag flag with its default.
func Flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("ankibridge", pflag.ContinueOnError)
	f.String("config", "", "Path to a YAML config file")
	f.String("source", "", "Path to the source SRS database (plain or gzip-compressed SQLite)")
	f.String("output", ".", "Directory to write .apkg archives into")
	f.String("cache_dir", defaultCacheDir(), "Persistent media cache directory")
	f.String("mappings", "migaku_to_anki_mappings.json", "Path to the saved field mapping file")
	f.String("media_base_url", "https://file-sync-worker-api.migaku.com/data/", "Base URL of the media API")
	f.String("token_url", "", "Token exchange endpoint for media authentication")
	f.String("refresh_token", "", "Refresh token for media authentication")
	f.Bool("include_images", true, "Resolve image fields into the package")
	f.Bool("include_audio", true, "Resolve audio fields into the package")
	f.Bool("keep_syntax", false, "Keep source bracket annotations in text fields")
	f.String("preset", "", "Media quality preset: smaller, normal or better")
	f.Bool("convert_media", false, "Enable media conversion")
	f.Bool("enable_image_conversion", false, "Re-encode and resize images")
	f.Int("image_max_dimension", 1024, "Maximum image dimension after conversion")
	f.Int("image_quality", 85, "JPEG quality for converted images (1-100)")
	f.Int("audio_sample_rate", 22050, "Target audio sample rate")
	f.Float64("max_media_size_mb", 10, "Skip media files larger than this (0 = no limit)")
	f.Bool("merge_selected", false, "Produce one merged package instead of one per deck")
	f.Bool("use_templates", true, "Synthesize content-aware card templates")
	f.Int("media_worker_count", 4, "Concurrent media downloads")
	return f
}

// Load resolves the configuration from all sources and validates it.
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flag config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Preset != "" {
		if err := cfg.applyPreset(cfg.Preset); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ".ankibridge-media"
	}
	return base + "/ankibridge/media"
}
