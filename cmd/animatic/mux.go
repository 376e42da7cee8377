package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/animatic/internal/audio"
	"github.com/ivlev/animatic/internal/director"
	"github.com/ivlev/animatic/internal/mux"
	"github.com/ivlev/animatic/internal/system"
	"github.com/ivlev/animatic/internal/video"
)

// audioFlags are the soundtrack flags shared by render and mux.
type audioFlags struct {
	music     string
	voice     string
	musicGain float64
	voiceGain float64
}

func (f *audioFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.music, "music", "", "Music URL or file")
	flags.StringVar(&f.voice, "voice", "", "Voice-over URL or file")
	flags.Float64Var(&f.musicGain, "music-gain", 0, "Music gain in dB (default from config, -10)")
	flags.Float64Var(&f.voiceGain, "voice-gain", 0, "Voice-over gain in dB (default from config, 0)")
}

// apply overlays the flags set on the command line onto refs.
func (f *audioFlags) apply(cmd *cobra.Command, refs director.AudioRefs) director.AudioRefs {
	flags := cmd.Flags()
	if flags.Changed("music") {
		refs.Music = f.music
	}
	if flags.Changed("voice") {
		refs.Voice = f.voice
	}
	if flags.Changed("music-gain") {
		gain := f.musicGain
		refs.MusicGainDB = &gain
	}
	if flags.Changed("voice-gain") {
		gain := f.voiceGain
		refs.VoiceGainDB = &gain
	}
	return refs
}

type muxFlags struct {
	video   string
	output  string
	saveMix string
	audio   audioFlags
}

func newMuxCommand(ctx *commandContext) *cobra.Command {
	f := &muxFlags{}
	cmd := &cobra.Command{
		Use:   "mux",
		Short: "Mix music and voice-over under an existing animatic",
		Long: `Mix music and voice-over under an existing animatic.

Both sources start at the beginning of the video and are cut to its length.
Without --music or --voice the newest file in the audio directory is used as
music. The video track is copied, not re-encoded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMux(cmd, ctx, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.video, "video", "", "Rendered animatic to mux")
	flags.StringVarP(&f.output, "output", "o", "", "Output file (default: <output_dir>/<name>_<timestamp>.<ext>)")
	flags.StringVar(&f.saveMix, "save-mix", "", "Also write the mixed soundtrack as a WAV file")
	f.audio.register(cmd)
	_ = cmd.MarkFlagRequired("video")
	return cmd
}

func runMux(cmd *cobra.Command, cctx *commandContext, f *muxFlags) error {
	cfg, logger, err := cctx.ensure()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(f.video)
	if err != nil {
		return fmt.Errorf("read video: %w", err)
	}
	refs := f.audio.apply(cmd, director.AudioRefs{})
	if refs.Empty() {
		latest, err := system.FindLatestAudio(cfg.Paths.AudioDir)
		if err != nil {
			return fmt.Errorf("no --music or --voice given and no audio found in %s: %w", cfg.Paths.AudioDir, err)
		}
		logger.Info("music selected", slog.String("path", latest))
		refs.Music = latest
	}

	src := &video.Result{Data: data, Container: containerFromPath(f.video)}
	res, err := muxResult(cmd, cctx, src, refs, f.saveMix)
	if err != nil {
		return err
	}

	out := f.output
	if out == "" {
		name := strings.ReplaceAll(director.StoryboardName(f.video), " ", "_")
		out = director.GenerateOutputPath(cfg.Paths.OutputDir, name, res.Ext())
	}
	if err := writeOutput(context.WithoutCancel(cmd.Context()), out, res.Data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n", out, res.MIME, res.Duration.Round(time.Millisecond))
	return nil
}

// muxResult mixes refs under res. When saveMix is set the mixed bus is also
// written there as WAV.
func muxResult(cmd *cobra.Command, cctx *commandContext, res *video.Result, refs director.AudioRefs, saveMix string) (*video.Result, error) {
	cfg, logger, err := cctx.ensure()
	if err != nil {
		return nil, err
	}

	muxer := mux.NewMuxer(cfg, cctx.fetcher(), logger)
	music, voice := mux.Sources(cfg.Mux, refs.Music, refs.Voice)
	if refs.MusicGainDB != nil {
		music.GainDB = *refs.MusicGainDB
	}
	if refs.VoiceGainDB != nil {
		voice.GainDB = *refs.VoiceGainDB
	}

	var mixed *audio.Buffer
	if saveMix != "" {
		muxer.OnMix = func(b *audio.Buffer) { mixed = b }
	}
	report, finish := newProgress(cmd.ErrOrStderr(), int(mux.StateDone), "Muxing")
	muxer.Progress = report

	out, err := muxer.Mux(cmd.Context(), mux.Request{
		Video:     res.Data,
		Container: res.Container,
		Music:     music,
		Voice:     voice,
	})
	finish()
	if err != nil {
		return nil, err
	}

	if mixed != nil {
		if err := saveWAV(saveMix, mixed); err != nil {
			return nil, err
		}
		logger.Info("mix saved", slog.String("path", saveMix), slog.Duration("duration", mixed.Duration()))
	}
	return out, nil
}

func saveWAV(path string, b *audio.Buffer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := audio.WriteWAV(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// containerFromPath maps a known video extension to its container, leaving
// anything else to the probe.
func containerFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".mov":
		return video.ContainerMP4
	case ".webm":
		return video.ContainerWebM
	case ".avi":
		return video.ContainerAVI
	}
	return ""
}
