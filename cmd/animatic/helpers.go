package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/director"
	"github.com/ivlev/animatic/internal/progress"
	"github.com/ivlev/animatic/internal/source"
	"github.com/ivlev/animatic/internal/system"
)

// resolveInput returns arg, or the newest storyboard in the configured
// storyboard directory.
func resolveInput(arg string, cfg *config.Config) (string, error) {
	if strings.TrimSpace(arg) != "" {
		return arg, nil
	}
	latest, err := system.FindLatestStoryboard(cfg.Paths.StoryboardDir)
	if err != nil {
		return "", fmt.Errorf("no storyboard given and none found in %s: %w", cfg.Paths.StoryboardDir, err)
	}
	return latest, nil
}

// loadStoryboard reads a storyboard manifest, or builds one from a PDF or an
// image directory with one asset per page.
func loadStoryboard(path string, holdMS int) (*director.Storyboard, error) {
	if slices.Contains(system.StoryboardExtensions, strings.ToLower(filepath.Ext(path))) {
		return director.ReadStoryboard(path)
	}
	doc, err := source.OpenDocument(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	if doc.PageCount() == 0 {
		return nil, fmt.Errorf("%s has no pages or images", path)
	}
	return director.FromDocument(doc, director.StoryboardName(path), holdMS), nil
}

// storyboardName prefers the manifest's own name.
func storyboardName(sb *director.Storyboard, path string) string {
	if sb.Name != "" {
		return strings.ReplaceAll(sb.Name, " ", "_")
	}
	return strings.ReplaceAll(director.StoryboardName(path), " ", "_")
}

// writeOutput writes data to path under an advisory lock so two renders
// never interleave on the same file.
func writeOutput(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("output %s is locked by another process", path)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize output: %w", err)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newProgress returns a progress consumer: a bar on terminals, nothing
// otherwise (the pipeline logs its own progress). Call finish when done.
func newProgress(w io.Writer, total int, description string) (progress.Func, func()) {
	if !isTerminal(w) || total <= 0 {
		return nil, func() {}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	publish, events, done := progress.Channel(8)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for ev := range events {
			bar.ChangeMax(ev.Total)
			_ = bar.Set(ev.Completed)
		}
		_ = bar.Finish()
	}()
	return publish, func() {
		done()
		<-finished
	}
}
