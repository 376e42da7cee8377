package director

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// GenerateOutputPath creates a timestamped output filename in dir.
func GenerateOutputPath(dir, name, ext string) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	if name == "" {
		name = "animatic"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, timestamp, ext))
}

// StoryboardName derives a render name from a storyboard path.
func StoryboardName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
