package source

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/logging"
)

// Item is one asset to preload. An empty Ref means the asset has no image.
type Item struct {
	ID  string
	Ref string
}

// Preloader fetches and decodes asset images with bounded parallelism.
type Preloader struct {
	Fetcher     Fetcher
	Concurrency int
	DPI         int
	Logger      *slog.Logger
}

// NewPreloader builds a preloader from cfg.
func NewPreloader(fetcher Fetcher, cfg config.Preload, logger *slog.Logger) *Preloader {
	return &Preloader{
		Fetcher:     fetcher,
		Concurrency: cfg.Concurrency,
		DPI:         cfg.DPI,
		Logger:      logging.WithComponent(logger, "preload"),
	}
}

// Preload returns one entry per item ID. Failed or absent images map to nil;
// failures are logged and never returned. min(Concurrency, len(items))
// workers share the pending queue so each item is processed exactly once.
func (p *Preloader) Preload(ctx context.Context, items []Item) map[string]image.Image {
	results := make(map[string]image.Image, len(items))
	if len(items) == 0 {
		return results
	}

	workers := p.Concurrency
	if workers <= 0 {
		workers = config.DefaultConcurrency
	}
	if workers > len(items) {
		workers = len(items)
	}

	pending := make(chan Item, len(items))
	for _, it := range items {
		pending <- it
	}
	close(pending)

	logger := logging.OrNop(p.Logger)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for it := range pending {
				img := p.load(gctx, logger, it)
				mu.Lock()
				results[it.ID] = img
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("preload finished",
		slog.Int("assets", len(items)),
		slog.Int("workers", workers))
	return results
}

func (p *Preloader) load(ctx context.Context, logger *slog.Logger, it Item) image.Image {
	if it.Ref == "" {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if p.Fetcher == nil {
		logger.Warn("no fetcher configured", slog.String("asset", it.ID))
		return nil
	}

	data, err := p.Fetcher.Fetch(ctx, it.Ref)
	if err != nil {
		logger.Warn("asset fetch failed", slog.String("asset", it.ID), slog.String("ref", it.Ref), logging.Err(err))
		return nil
	}

	dpi := p.DPI
	if dpi <= 0 {
		dpi = config.DefaultDPI
	}
	img, err := Decode(it.Ref, data, dpi)
	if err != nil {
		logger.Warn("asset decode failed", slog.String("asset", it.ID), slog.String("ref", it.Ref), logging.Err(err))
		return nil
	}
	return img
}
