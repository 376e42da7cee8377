package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/director"
	"github.com/ivlev/animatic/internal/engine"
	"github.com/ivlev/animatic/internal/logging"
	"github.com/ivlev/animatic/internal/system"
	"github.com/ivlev/animatic/internal/video"
)

type renderFlags struct {
	output     string
	preset     string
	width      int
	height     int
	fps        int
	holdMS     int
	leadInMS   int
	tailOutMS  int
	noCaptions bool
	realtime   bool
	codecs     []string
	quality    int
	stats      bool
	noAudio    bool
	audio      audioFlags
}

// overrides collects the render options set explicitly on the command line.
func (f *renderFlags) overrides(cmd *cobra.Command) config.RenderOptions {
	var o config.RenderOptions
	flags := cmd.Flags()
	if w, h, ok := presetSize(f.preset); ok {
		o.Width, o.Height = w, h
	}
	if flags.Changed("width") {
		o.Width = f.width
	}
	if flags.Changed("height") {
		o.Height = f.height
	}
	if flags.Changed("fps") {
		o.FPS = f.fps
	}
	if flags.Changed("hold-ms") {
		o.DefaultHoldMS = f.holdMS
	}
	if flags.Changed("lead-in-ms") {
		o.LeadInMS = config.Int(f.leadInMS)
	}
	if flags.Changed("tail-out-ms") {
		o.TailOutMS = config.Int(f.tailOutMS)
	}
	if f.noCaptions {
		o.Captions = config.Bool(false)
	}
	o.Realtime = f.realtime
	return o
}

// presetSize maps an aspect preset to a frame size.
func presetSize(name string) (int, int, bool) {
	switch strings.TrimSpace(name) {
	case "16:9":
		return 1280, 720, true
	case "9:16":
		return 720, 1280, true
	case "4:5":
		return 1080, 1350, true
	}
	return 0, 0, false
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "render [storyboard|pdf|image-dir]",
		Short: "Render a storyboard into an animatic video",
		Long: `Render a storyboard into an animatic video.

The input is a YAML/TOML storyboard, a PDF (one asset per page) or a directory
of images. Without an argument the newest storyboard in the storyboard
directory is used. When the storyboard names music or a voice-over, the
soundtrack is mixed in after rendering unless --no-audio is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			return runRender(cmd, ctx, arg, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "Output file (default: <output_dir>/<name>_<timestamp>.<ext>)")
	flags.StringVar(&f.preset, "preset", "", "Frame size preset: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	flags.IntVar(&f.width, "width", config.DefaultWidth, "Frame width")
	flags.IntVar(&f.height, "height", config.DefaultHeight, "Frame height")
	flags.IntVar(&f.fps, "fps", config.DefaultFPS, "Frames per second")
	flags.IntVar(&f.holdMS, "hold-ms", config.DefaultHoldMS, "Hold for assets without hold_ms")
	flags.IntVar(&f.leadInMS, "lead-in-ms", config.DefaultLeadInMS, "Black lead-in")
	flags.IntVar(&f.tailOutMS, "tail-out-ms", config.DefaultTailOutMS, "Black tail-out")
	flags.BoolVar(&f.noCaptions, "no-captions", false, "Do not draw caption bands")
	flags.BoolVar(&f.realtime, "realtime", false, "Pace frames at the output frame rate")
	flags.StringSliceVar(&f.codecs, "codec", nil, "Codec preference, best first (see `animatic codecs`)")
	flags.IntVar(&f.quality, "quality", 0, "Encoder quality (0 = per-codec default; x264: CRF, VideoToolbox: Q*100 kbit/s)")
	flags.BoolVar(&f.stats, "stats", false, "Print a performance report")
	flags.BoolVar(&f.noAudio, "no-audio", false, "Skip the soundtrack even if the storyboard names one")
	f.audio.register(cmd)
	return cmd
}

func runRender(cmd *cobra.Command, cctx *commandContext, arg string, f *renderFlags) error {
	cfg, logger, err := cctx.ensure()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if f.preset != "" {
		if _, _, ok := presetSize(f.preset); !ok {
			return fmt.Errorf("unknown preset %q (want 16:9, 9:16 or 4:5)", f.preset)
		}
	}

	input, err := resolveInput(arg, cfg)
	if err != nil {
		return err
	}
	holdMS := 0
	if cmd.Flags().Changed("hold-ms") {
		holdMS = f.holdMS
	}
	sb, err := loadStoryboard(input, holdMS)
	if err != nil {
		return err
	}
	name := storyboardName(sb, input)
	logger.Info("storyboard loaded",
		slog.String("input", input),
		slog.String("name", name),
		slog.Int("assets", len(sb.Assets)))

	animator := engine.NewAnimator(cfg, cctx.fetcher(), logger)
	animator.Options = cfg.Render.Merge(sb.Options).Merge(f.overrides(cmd)).WithDefaults()
	if len(f.codecs) > 0 {
		animator.Encoder.Preference = f.codecs
	}
	if cmd.Flags().Changed("quality") {
		animator.Encoder.Quality = f.quality
	}
	report, finish := newProgress(cmd.ErrOrStderr(), len(sb.Assets), "Rendering")
	animator.Progress = report

	res, stats, err := animator.RenderWithStats(ctx, sb.Assets)
	finish()
	if err != nil {
		return err
	}
	if res.Cancelled {
		logger.Warn("render cancelled, keeping the partial output")
	}

	refs := f.audio.apply(cmd, sb.Audio)
	if !f.noAudio && !res.Cancelled && !refs.Empty() {
		muxed, err := muxResult(cmd, cctx, res, refs, "")
		if err != nil {
			return err
		}
		muxed.Frames = res.Frames
		res = muxed
	}

	out := f.output
	if out == "" {
		out = director.GenerateOutputPath(cfg.Paths.OutputDir, name, res.Ext())
	}
	if err := writeOutput(context.WithoutCancel(ctx), out, res.Data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %d frames, %s)\n", out, res.Codec, res.Frames, res.Duration.Round(time.Millisecond))

	if f.stats {
		printStats(cmd.OutOrStdout(), stats, res)
		appendBenchmark(cfg.Paths.OutputDir, input, stats, logger)
	}
	if res.Cancelled {
		return context.Canceled
	}
	return nil
}

func printStats(w io.Writer, stats engine.Stats, res *video.Result) {
	snap := system.TakeSnapshot()
	ms := func(d time.Duration) string { return d.Round(time.Millisecond).String() }
	rows := [][]string{
		{"Codec", stats.Codec},
		{"Assets", fmt.Sprintf("%d (%d placeholders)", stats.Assets, stats.Missing)},
		{"Frames", fmt.Sprintf("%d", stats.Frames)},
		{"Output", formatBytes(uint64(len(res.Data)))},
		{"Preload", ms(stats.Preload)},
		{"Compose + encode", ms(stats.Compose)},
		{"Finalize", ms(stats.Finalize)},
		{"Total", ms(stats.Total)},
		{"Effective FPS", fmt.Sprintf("%.2f", stats.EffectiveFPS())},
		{"Process RSS", formatBytes(snap.RSSBytes)},
		{"Process CPU", fmt.Sprintf("%.1f%%", snap.CPUPercent)},
		{"Goroutines", fmt.Sprintf("%d", snap.Goroutines)},
		{"Host memory", fmt.Sprintf("%.1f%% of %s (%d CPUs)", snap.HostUsedPct, formatBytes(snap.HostTotalBytes), snap.LogicalCPUs)},
	}
	fmt.Fprintln(w, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
}

// appendBenchmark keeps a one-line-per-render history next to the outputs.
func appendBenchmark(dir, input string, stats engine.Stats, logger *slog.Logger) {
	entry := fmt.Sprintf("[%s] Input: %s | Codec: %s | Assets: %d | Frames: %d | Total: %.2fs | Preload: %.2fs | Encode: %.2fs | FPS: %.2f\n",
		time.Now().Format("2006-01-02 15:04:05"),
		filepath.Base(input),
		stats.Codec,
		stats.Assets,
		stats.Frames,
		stats.Total.Seconds(),
		stats.Preload.Seconds(),
		stats.Compose.Seconds(),
		stats.EffectiveFPS(),
	)
	f, err := os.OpenFile(filepath.Join(dir, "benchmark.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("cannot write benchmark.log", logging.Err(err))
		return
	}
	defer f.Close()
	_, _ = f.WriteString(entry)
}
