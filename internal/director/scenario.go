package director

import "github.com/ivlev/animatic/internal/config"

// Storyboard is the manifest the CLI renders: ordered assets plus optional
// render options and audio for the mux step.
type Storyboard struct {
	Version string               `yaml:"version" toml:"version"`
	Name    string               `yaml:"name,omitempty" toml:"name,omitempty"`
	Options config.RenderOptions `yaml:"options,omitempty" toml:"options,omitempty"`
	Audio   AudioRefs            `yaml:"audio,omitempty" toml:"audio,omitempty"`
	Assets  []Asset              `yaml:"assets" toml:"assets"`
}

// Asset is one storyboard frame. Assets render in Sequence order.
type Asset struct {
	ID       string `yaml:"id" toml:"id"`
	Sequence int    `yaml:"sequence" toml:"sequence"`
	// Image is a URL, file path or "deck.pdf#page=N". Empty renders a placeholder.
	Image   string `yaml:"image,omitempty" toml:"image,omitempty"`
	Caption string `yaml:"caption,omitempty" toml:"caption,omitempty"`
	// HoldMS is how long the asset stays on screen; 0 uses the default hold.
	HoldMS int `yaml:"hold_ms,omitempty" toml:"hold_ms,omitempty"`
}

// AudioRefs names the sources mixed onto the rendered animatic.
type AudioRefs struct {
	Music       string   `yaml:"music,omitempty" toml:"music,omitempty"`
	Voice       string   `yaml:"voice,omitempty" toml:"voice,omitempty"`
	MusicGainDB *float64 `yaml:"music_gain_db,omitempty" toml:"music_gain_db,omitempty"`
	VoiceGainDB *float64 `yaml:"voice_gain_db,omitempty" toml:"voice_gain_db,omitempty"`
}

// Empty reports whether no audio source is set.
func (a AudioRefs) Empty() bool {
	return a.Music == "" && a.Voice == ""
}
