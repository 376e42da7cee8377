// Package engine drives a render: it preloads the assets, walks the planned
// timeline and feeds composited frames to the selected encoder.
package engine

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/director"
	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/logging"
	"github.com/ivlev/animatic/internal/progress"
	"github.com/ivlev/animatic/internal/renderer"
	"github.com/ivlev/animatic/internal/session"
	"github.com/ivlev/animatic/internal/source"
	"github.com/ivlev/animatic/internal/video"
)

// SinkFactory builds the frame sink for a negotiated codec.
type SinkFactory func(codec video.Codec, opts video.SinkOptions) video.Sink

// Animator renders ordered assets into an encoded animatic.
type Animator struct {
	Options   config.RenderOptions
	Encoder   config.Encoder
	Preloader *source.Preloader
	// Capabilities replaces the ffmpeg encoder probe when non-nil.
	Capabilities video.Capabilities
	// NewSink defaults to video.NewSink.
	NewSink  SinkFactory
	TempDir  string
	Progress progress.Func
	Logger   *slog.Logger
}

// NewAnimator wires an animator from configuration.
func NewAnimator(cfg *config.Config, fetcher source.Fetcher, logger *slog.Logger) *Animator {
	return &Animator{
		Options:   cfg.Render.WithDefaults(),
		Encoder:   cfg.Encoder,
		Preloader: source.NewPreloader(fetcher, cfg.Preload, logger),
		TempDir:   cfg.Paths.TempDir,
		Logger:    logging.WithComponent(logger, "engine"),
	}
}

// Stats is the timing breakdown of one render.
type Stats struct {
	Assets   int
	Missing  int
	Frames   int
	Codec    string
	Preload  time.Duration
	Compose  time.Duration
	Finalize time.Duration
	Total    time.Duration
}

// EffectiveFPS is frames produced per wall-clock second.
func (s Stats) EffectiveFPS() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Total.Seconds()
}

// Render produces the animatic for assets. When ctx is cancelled between
// assets the render stops early but still writes the tail-out and finalises
// the encoder; the shorter result is returned with Cancelled set.
func (a *Animator) Render(ctx context.Context, assets []director.Asset) (*video.Result, error) {
	res, _, err := a.RenderWithStats(ctx, assets)
	return res, err
}

// RenderWithStats is Render plus a timing report.
func (a *Animator) RenderWithStats(ctx context.Context, assets []director.Asset) (*video.Result, Stats, error) {
	const op = "engine.render"
	start := time.Now()
	var stats Stats

	opts := a.Options.WithDefaults()
	tl, err := director.Plan(assets, opts)
	if err != nil {
		return nil, stats, err
	}
	stats.Assets = len(tl.Segments)

	// Codec negotiation happens before anything is captured.
	codec, err := a.selectCodec(ctx)
	if err != nil {
		return nil, stats, err
	}
	stats.Codec = codec.Name

	sess, err := session.New(a.TempDir, a.Logger)
	if err != nil {
		return nil, stats, failure.Wrap(err, failure.KindInternal, op, "open session")
	}
	defer sess.Close()
	release, err := sess.Acquire()
	if err != nil {
		return nil, stats, failure.Wrap(err, failure.KindInternal, op, "acquire session")
	}
	defer release()
	logger := sess.Logger()

	logger.Info("render started",
		slog.String("codec", codec.Name),
		slog.Int("assets", len(tl.Segments)),
		slog.Int("frames", tl.TotalFrames()),
		slog.Int("fps", opts.FPS),
		slog.Int("width", opts.Width),
		slog.Int("height", opts.Height))

	preloadStart := time.Now()
	images := a.preload(ctx, tl)
	stats.Preload = time.Since(preloadStart)
	for _, seg := range tl.Segments {
		if images[seg.Asset.ID] == nil {
			stats.Missing++
			logger.Warn("asset drawn as placeholder", slog.String("asset", seg.Asset.ID))
		}
	}

	comp := renderer.NewCompositor()
	sess.Defer("compositor", comp.Close)
	surface := sess.Surface(opts.Width, opts.Height)

	newSink := a.NewSink
	if newSink == nil {
		newSink = video.NewSink
	}
	sink := newSink(codec, video.NewSinkOptions(opts, a.Encoder, sess.Dir(), logger))
	if err := sink.Start(ctx); err != nil {
		return nil, stats, err
	}
	sess.Defer("encoder", func() error {
		sink.Abort()
		return nil
	})

	fw := &frameWriter{
		sink:    sink,
		surface: surface,
		fps:     opts.FPS,
		pace:    newPacer(opts.Realtime, opts.FrameDuration()),
	}
	defer fw.pace.stop()

	composeStart := time.Now()
	cancelled, err := a.play(ctx, tl, opts, comp, fw, images, logger)
	if err != nil {
		return nil, stats, err
	}

	// Tail-out and finalisation run even after cancellation.
	stopCtx := context.WithoutCancel(ctx)
	comp.Blank(surface)
	fw.seq++
	if _, err := fw.hold(stopCtx, tl.TailOutFrames, nil); err != nil {
		return nil, stats, err
	}
	stats.Compose = time.Since(composeStart)

	finalizeStart := time.Now()
	res, err := sink.Stop(stopCtx)
	if err != nil {
		return nil, stats, err
	}
	stats.Finalize = time.Since(finalizeStart)
	res.Cancelled = cancelled

	stats.Frames = res.Frames
	stats.Total = time.Since(start)
	logger.Info("render finished",
		slog.Int("frames", res.Frames),
		slog.Duration("duration", res.Duration),
		slog.Int("bytes", len(res.Data)),
		slog.Bool("cancelled", cancelled),
		slog.Duration("elapsed", stats.Total))
	return res, stats, nil
}

func (a *Animator) selectCodec(ctx context.Context) (video.Codec, error) {
	caps := a.Capabilities
	if caps == nil {
		caps = video.ProbeCapabilities(ctx, a.Encoder.FFmpegPath, a.Logger)
	}
	return video.SelectCodec(a.Encoder.Preference, caps)
}

func (a *Animator) preload(ctx context.Context, tl director.Timeline) map[string]image.Image {
	if a.Preloader == nil {
		return map[string]image.Image{}
	}
	items := make([]source.Item, len(tl.Segments))
	for i, seg := range tl.Segments {
		items[i] = source.Item{ID: seg.Asset.ID, Ref: seg.Asset.Image}
	}
	return a.Preloader.Preload(ctx, items)
}

// play writes the lead-in and every asset hold. It reports whether ctx was
// cancelled before the last asset finished.
func (a *Animator) play(ctx context.Context, tl director.Timeline, opts config.RenderOptions,
	comp *renderer.Compositor, fw *frameWriter, images map[string]image.Image, logger *slog.Logger) (bool, error) {

	reporter := progress.NewReporter(a.Progress)
	total := len(tl.Segments)

	comp.Blank(fw.surface)
	fw.seq++
	if cancelled, err := fw.hold(ctx, tl.LeadInFrames, nil); cancelled || err != nil {
		return cancelled, err
	}

	for i, seg := range tl.Segments {
		if ctx.Err() != nil {
			logger.Info("render cancelled", slog.Int("completed", i), slog.Int("total", total))
			return true, nil
		}

		img := images[seg.Asset.ID]
		draw := func() {
			comp.Draw(fw.surface, img, seg.Asset.Caption, opts.CaptionsEnabled())
		}
		draw()
		fw.seq++

		cancelled, err := fw.hold(ctx, seg.Frames, draw)
		if err != nil {
			return false, err
		}
		if cancelled {
			logger.Info("render cancelled", slog.Int("completed", i), slog.Int("total", total))
			return true, nil
		}
		logger.Debug("asset rendered",
			slog.String("asset", seg.Asset.ID),
			slog.Int("frames", seg.Frames))
		reporter.Report(i+1, total)
	}
	return false, nil
}

// frameWriter submits the shared surface to the sink.
type frameWriter struct {
	sink    video.Sink
	surface *image.RGBA
	fps     int
	seq     uint64
	written int
	pace    *pacer
}

// hold writes the current surface n times. ctx is checked before every
// frame after the first; redraw, when set, recomposites the surface once per
// second of hold.
func (w *frameWriter) hold(ctx context.Context, n int, redraw func()) (bool, error) {
	for i := 0; i < n; i++ {
		if i > 0 && ctx.Err() != nil {
			return true, nil
		}
		if redraw != nil && i > 0 && w.fps > 0 && i%w.fps == 0 {
			redraw()
			w.seq++
		}
		if err := w.pace.wait(ctx); err != nil {
			return true, nil
		}
		if err := w.sink.WriteFrame(video.Frame{Image: w.surface, Seq: w.seq}); err != nil {
			return false, failure.Wrap(err, failure.KindInternal, "engine.frame", "write frame")
		}
		w.written++
	}
	return false, nil
}

// pacer spaces frame submission at the output frame rate in realtime mode.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(enabled bool, interval time.Duration) *pacer {
	if !enabled || interval <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: time.NewTicker(interval)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.ticker == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
