package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultWidth         = 1280
	DefaultHeight        = 720
	DefaultFPS           = 24
	DefaultHoldMS        = 2000
	DefaultLeadInMS      = 300
	DefaultTailOutMS     = 500
	DefaultConcurrency   = 4
	DefaultDPI           = 150
	DefaultMusicGainDB   = -10.0
	DefaultVoiceGainDB   = 0.0
	DefaultSampleRate    = 48000
	DefaultChannels      = 2
	DefaultMinOutput     = 1024
	DefaultChunkSize     = 64 * 1024
	DefaultLoadTimeout   = 15 * time.Second
	DefaultSafetyMargin  = 3 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
	DefaultStoryboardDir = "input/storyboards"
	DefaultAudioDir      = "input/audio"
	DefaultOutputDir     = "output"
)

// RenderOptions controls the animatic timeline and frame geometry.
// Zero values take the package defaults; LeadInMS/TailOutMS and Captions are
// pointers so an explicit 0/false survives defaulting.
type RenderOptions struct {
	Width         int   `yaml:"width,omitempty" toml:"width,omitempty"`
	Height        int   `yaml:"height,omitempty" toml:"height,omitempty"`
	FPS           int   `yaml:"fps,omitempty" toml:"fps,omitempty"`
	DefaultHoldMS int   `yaml:"default_hold_ms,omitempty" toml:"default_hold_ms,omitempty"`
	LeadInMS      *int  `yaml:"lead_in_ms,omitempty" toml:"lead_in_ms,omitempty"`
	TailOutMS     *int  `yaml:"tail_out_ms,omitempty" toml:"tail_out_ms,omitempty"`
	Captions      *bool `yaml:"captions,omitempty" toml:"captions,omitempty"`
	// Realtime paces frame submission at the output frame rate.
	Realtime bool `yaml:"realtime,omitempty" toml:"realtime,omitempty"`
}

// WithDefaults returns a copy with every unset field filled in.
func (o RenderOptions) WithDefaults() RenderOptions {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.FPS == 0 {
		o.FPS = DefaultFPS
	}
	if o.DefaultHoldMS == 0 {
		o.DefaultHoldMS = DefaultHoldMS
	}
	if o.LeadInMS == nil {
		o.LeadInMS = Int(DefaultLeadInMS)
	}
	if o.TailOutMS == nil {
		o.TailOutMS = Int(DefaultTailOutMS)
	}
	if o.Captions == nil {
		o.Captions = Bool(true)
	}
	return o
}

// Validate checks the invariants fps > 0, width/height > 0 and non-negative
// durations. Call it on the result of WithDefaults.
func (o RenderOptions) Validate() error {
	var errs []error
	if o.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", o.FPS))
	}
	if o.Width <= 0 || o.Height <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %dx%d", o.Width, o.Height))
	}
	if o.DefaultHoldMS < 0 {
		errs = append(errs, fmt.Errorf("default_hold_ms must not be negative, got %d", o.DefaultHoldMS))
	}
	if o.LeadIn() < 0 {
		errs = append(errs, fmt.Errorf("lead_in_ms must not be negative, got %d", o.LeadIn()))
	}
	if o.TailOut() < 0 {
		errs = append(errs, fmt.Errorf("tail_out_ms must not be negative, got %d", o.TailOut()))
	}
	return errors.Join(errs...)
}

// LeadIn returns the lead-in padding in milliseconds.
func (o RenderOptions) LeadIn() int {
	if o.LeadInMS == nil {
		return DefaultLeadInMS
	}
	return *o.LeadInMS
}

// TailOut returns the tail-out padding in milliseconds.
func (o RenderOptions) TailOut() int {
	if o.TailOutMS == nil {
		return DefaultTailOutMS
	}
	return *o.TailOutMS
}

// CaptionsEnabled reports whether caption bands are drawn.
func (o RenderOptions) CaptionsEnabled() bool {
	return o.Captions == nil || *o.Captions
}

// FrameDuration is the length of one output frame.
func (o RenderOptions) FrameDuration() time.Duration {
	if o.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(o.FPS)
}

// Merge overlays the set fields of override onto o.
func (o RenderOptions) Merge(override RenderOptions) RenderOptions {
	if override.Width != 0 {
		o.Width = override.Width
	}
	if override.Height != 0 {
		o.Height = override.Height
	}
	if override.FPS != 0 {
		o.FPS = override.FPS
	}
	if override.DefaultHoldMS != 0 {
		o.DefaultHoldMS = override.DefaultHoldMS
	}
	if override.LeadInMS != nil {
		o.LeadInMS = override.LeadInMS
	}
	if override.TailOutMS != nil {
		o.TailOutMS = override.TailOutMS
	}
	if override.Captions != nil {
		o.Captions = override.Captions
	}
	if override.Realtime {
		o.Realtime = true
	}
	return o
}

// Encoder selects and tunes the video encoder.
type Encoder struct {
	// Preference lists codec names, best first. Empty means the built-in order.
	Preference []string `yaml:"preference,omitempty" toml:"preference,omitempty"`
	// Quality is encoder specific; 0 picks a per-encoder default.
	Quality        int    `yaml:"quality,omitempty" toml:"quality,omitempty"`
	FFmpegPath     string `yaml:"ffmpeg_path,omitempty" toml:"ffmpeg_path,omitempty"`
	FFprobePath    string `yaml:"ffprobe_path,omitempty" toml:"ffprobe_path,omitempty"`
	MinOutputBytes int    `yaml:"min_output_bytes,omitempty" toml:"min_output_bytes,omitempty"`
	ChunkSize      int    `yaml:"chunk_size,omitempty" toml:"chunk_size,omitempty"`
}

// Preload tunes the asset preloader.
type Preload struct {
	Concurrency    int `yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`
	DPI            int `yaml:"dpi,omitempty" toml:"dpi,omitempty"`
}

// Timeout is the per-asset fetch timeout.
func (p Preload) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultFetchTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Mux tunes the audio/video muxer.
type Mux struct {
	MusicGainDB         *float64 `yaml:"music_gain_db,omitempty" toml:"music_gain_db,omitempty"`
	VoiceGainDB         *float64 `yaml:"voice_gain_db,omitempty" toml:"voice_gain_db,omitempty"`
	LoadTimeoutSeconds  int      `yaml:"load_timeout_seconds,omitempty" toml:"load_timeout_seconds,omitempty"`
	SafetyMarginSeconds int      `yaml:"safety_margin_seconds,omitempty" toml:"safety_margin_seconds,omitempty"`
	SampleRate          int      `yaml:"sample_rate,omitempty" toml:"sample_rate,omitempty"`
	Channels            int      `yaml:"channels,omitempty" toml:"channels,omitempty"`
}

// LoadTimeout bounds how long the source video may take to become ready.
func (m Mux) LoadTimeout() time.Duration {
	if m.LoadTimeoutSeconds <= 0 {
		return DefaultLoadTimeout
	}
	return time.Duration(m.LoadTimeoutSeconds) * time.Second
}

// SafetyMargin is added to the video duration to bound recording.
func (m Mux) SafetyMargin() time.Duration {
	if m.SafetyMarginSeconds <= 0 {
		return DefaultSafetyMargin
	}
	return time.Duration(m.SafetyMarginSeconds) * time.Second
}

// MusicGain returns the primary source gain in dB.
func (m Mux) MusicGain() float64 {
	if m.MusicGainDB == nil {
		return DefaultMusicGainDB
	}
	return *m.MusicGainDB
}

// VoiceGain returns the secondary source gain in dB.
func (m Mux) VoiceGain() float64 {
	if m.VoiceGainDB == nil {
		return DefaultVoiceGainDB
	}
	return *m.VoiceGainDB
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty"`
	Format string `yaml:"format,omitempty" toml:"format,omitempty"`
}

// Paths holds the CLI's conventional directories.
type Paths struct {
	StoryboardDir string `yaml:"storyboard_dir,omitempty" toml:"storyboard_dir,omitempty"`
	AudioDir      string `yaml:"audio_dir,omitempty" toml:"audio_dir,omitempty"`
	OutputDir     string `yaml:"output_dir,omitempty" toml:"output_dir,omitempty"`
	TempDir       string `yaml:"temp_dir,omitempty" toml:"temp_dir,omitempty"`
}

// Config is the full application configuration.
type Config struct {
	Render  RenderOptions `yaml:"render" toml:"render"`
	Encoder Encoder       `yaml:"encoder" toml:"encoder"`
	Preload Preload       `yaml:"preload" toml:"preload"`
	Mux     Mux           `yaml:"mux" toml:"mux"`
	Log     Log           `yaml:"log" toml:"log"`
	Paths   Paths         `yaml:"paths" toml:"paths"`
}

// Default returns a normalized default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills unset values with defaults.
func (c *Config) Normalize() {
	c.Render = c.Render.WithDefaults()
	if c.Encoder.FFmpegPath == "" {
		c.Encoder.FFmpegPath = "ffmpeg"
	}
	if c.Encoder.FFprobePath == "" {
		c.Encoder.FFprobePath = "ffprobe"
	}
	if c.Encoder.MinOutputBytes <= 0 {
		c.Encoder.MinOutputBytes = DefaultMinOutput
	}
	if c.Encoder.ChunkSize <= 0 {
		c.Encoder.ChunkSize = DefaultChunkSize
	}
	if c.Preload.Concurrency <= 0 {
		c.Preload.Concurrency = DefaultConcurrency
	}
	if c.Preload.DPI <= 0 {
		c.Preload.DPI = DefaultDPI
	}
	if c.Mux.SampleRate <= 0 {
		c.Mux.SampleRate = DefaultSampleRate
	}
	if c.Mux.Channels <= 0 {
		c.Mux.Channels = DefaultChannels
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Paths.StoryboardDir == "" {
		c.Paths.StoryboardDir = DefaultStoryboardDir
	}
	if c.Paths.AudioDir == "" {
		c.Paths.AudioDir = DefaultAudioDir
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = DefaultOutputDir
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Render.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("render: %w", err))
	}
	if c.Mux.Channels > 2 {
		errs = append(errs, fmt.Errorf("mux: channels must be 1 or 2, got %d", c.Mux.Channels))
	}
	if c.Preload.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("preload: concurrency must be at least 1"))
	}
	return errors.Join(errs...)
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
