package system

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/animatic/internal/logging"
)

var (
	StoryboardExtensions = []string{".yaml", ".yml", ".toml"}
	AudioExtensions      = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac", ".opus"}
)

// InitResourceLimits raises the open-file limit; encoders, temp files and
// HTTP fetches all hold descriptors concurrently.
func InitResourceLimits(logger *slog.Logger) {
	logger = logging.OrNop(logger)

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("cannot read open-file limit", logging.Err(err))
		return
	}

	want := uint64(2048)
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("cannot raise open-file limit", logging.Err(err))
		return
	}
	logger.Debug("open-file limit raised", slog.Uint64("limit", uint64(rLimit.Cur)))
}

// FindLatestFile returns the most recently modified file in dir whose
// extension is one of exts.
func FindLatestFile(dir string, exts []string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, entry := range entries {
		if entry.IsDir() || !hasExtension(entry.Name(), exts) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latestFile == "" || info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, entry.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no %s files found in %s", strings.Join(exts, "/"), dir)
	}
	return latestFile, nil
}

// FindLatestStoryboard returns the newest storyboard manifest in dir.
func FindLatestStoryboard(dir string) (string, error) {
	return FindLatestFile(dir, StoryboardExtensions)
}

// FindLatestAudio returns the newest audio file in dir.
func FindLatestAudio(dir string) (string, error) {
	return FindLatestFile(dir, AudioExtensions)
}

func hasExtension(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ListEncoders returns the set of encoder names compiled into ffmpeg.
func ListEncoders(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	return ParseEncoderList(out), nil
}

// ParseEncoderList parses `ffmpeg -encoders` output. Entries look like
// " V....D libx264   libx264 H.264 / AVC ..."; the legend above the
// "------" separator is skipped.
func ParseEncoderList(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	inList := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "---") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// ProbeDuration asks ffprobe for the container duration of path in seconds.
// Containers without duration metadata yield NaN rather than an error.
func ProbeDuration(ctx context.Context, ffprobePath, path string) (float64, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobePath, "-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return ParseSeconds(string(out)), nil
}

// ParseSeconds parses an ffprobe time value. "N/A", empty output and garbage
// all map to NaN.
func ParseSeconds(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
