package director

import (
	"fmt"
	"os"

	"github.com/ivlev/animatic/internal/config"
)

// WriteStoryboard writes a storyboard as YAML or TOML, by path extension.
func WriteStoryboard(sb *Storyboard, path string) error {
	data, err := config.Encode(path, sb)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadStoryboard reads and validates a YAML or TOML storyboard.
func ReadStoryboard(path string) (*Storyboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sb Storyboard
	if err := config.Decode(path, data, &sb); err != nil {
		return nil, fmt.Errorf("parse storyboard %s: %w", path, err)
	}
	if err := Validate(sb.Assets); err != nil {
		return nil, err
	}

	return &sb, nil
}
