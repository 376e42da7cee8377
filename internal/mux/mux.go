// Package mux lays the mixed soundtrack under a rendered animatic. The video
// track is stream-copied; only the audio is encoded.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/ivlev/animatic/internal/audio"
	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/logging"
	"github.com/ivlev/animatic/internal/progress"
	"github.com/ivlev/animatic/internal/session"
	"github.com/ivlev/animatic/internal/source"
	"github.com/ivlev/animatic/internal/video"
)

var (
	// ErrVideoNotReady means the source video could not be loaded within
	// the load timeout.
	ErrVideoNotReady = failure.New(failure.KindTimeout, "mux.load", "video did not become ready in time")
	// ErrZeroDuration means no finite, positive duration could be found for
	// the source video.
	ErrZeroDuration = failure.New(failure.KindInvalidInput, "mux.duration", "video duration is zero or unknown")
)

// State is a step of the mux state machine.
type State int

const (
	StateLoadingVideo State = iota
	StateDurationDiscovery
	StateDecodingAudio
	StateRecording
	StateFlushing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoadingVideo:
		return "loading_video"
	case StateDurationDiscovery:
		return "duration_discovery"
	case StateDecodingAudio:
		return "decoding_audio"
	case StateRecording:
		return "recording"
	case StateFlushing:
		return "flushing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Prober reads source video metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (video.ProbeInfo, error)
	// ScanDuration walks every packet to recover a duration the container
	// header does not carry.
	ScanDuration(ctx context.Context, path string) (float64, error)
}

// Recorder combines the source video with a PCM stream.
type Recorder interface {
	Record(ctx context.Context, req video.RecordRequest) ([]byte, error)
}

// Request is one mux job.
type Request struct {
	// Video is the encoded animatic.
	Video []byte
	// Container overrides the probed container name.
	Container string
	Music     audio.Source
	Voice     audio.Source
}

// Muxer runs mux jobs.
type Muxer struct {
	Prober   Prober
	Recorder Recorder
	Audio    *audio.Engine
	// Capabilities lists the available audio encoders; nil probes ffmpeg.
	Capabilities   video.Capabilities
	FFmpegPath     string
	LoadTimeout    time.Duration
	SafetyMargin   time.Duration
	MinOutputBytes int
	SampleRate     int
	Channels       int
	TempDir        string
	OnState        func(State)
	// OnMix receives the mixed bus before recording.
	OnMix    func(*audio.Buffer)
	Progress progress.Func
	Logger   *slog.Logger
}

// NewMuxer wires a muxer backed by ffprobe and ffmpeg.
func NewMuxer(cfg *config.Config, fetcher source.Fetcher, logger *slog.Logger) *Muxer {
	logger = logging.WithComponent(logger, "mux")
	rate, channels := cfg.Mux.SampleRate, cfg.Mux.Channels
	return &Muxer{
		Prober: video.FFprobe{Path: cfg.Encoder.FFprobePath},
		Recorder: &video.FFmpegRecorder{
			Path:      cfg.Encoder.FFmpegPath,
			ChunkSize: cfg.Encoder.ChunkSize,
			Logger:    logger,
		},
		Audio: audio.NewEngine(&audio.Decoder{
			Fetcher:    fetcher,
			FFmpegPath: cfg.Encoder.FFmpegPath,
			SampleRate: rate,
			Channels:   channels,
			TempDir:    cfg.Paths.TempDir,
		}, logger),
		FFmpegPath:     cfg.Encoder.FFmpegPath,
		LoadTimeout:    cfg.Mux.LoadTimeout(),
		SafetyMargin:   cfg.Mux.SafetyMargin(),
		MinOutputBytes: cfg.Encoder.MinOutputBytes,
		SampleRate:     rate,
		Channels:       channels,
		TempDir:        cfg.Paths.TempDir,
		Logger:         logger,
	}
}

// Sources builds the two mux inputs with the configured default gains.
func Sources(cfg config.Mux, music, voice string) (audio.Source, audio.Source) {
	return audio.Source{Name: "music", Ref: music, GainDB: cfg.MusicGain()},
		audio.Source{Name: "voice", Ref: voice, GainDB: cfg.VoiceGain()}
}

func (m *Muxer) busFormat() (int, int) {
	rate, ch := m.SampleRate, m.Channels
	if rate <= 0 {
		rate = config.DefaultSampleRate
	}
	if ch <= 0 {
		ch = config.DefaultChannels
	}
	return rate, ch
}

// Mux produces req.Video with the mixed music and voice-over. Both sources
// start at t=0 and the output is cut to the video's duration. The session's
// temp files are removed on every exit path.
func (m *Muxer) Mux(ctx context.Context, req Request) (res *video.Result, err error) {
	const op = "mux"
	logger := logging.OrNop(m.Logger)
	reporter := progress.NewReporter(m.Progress)
	setState := func(s State) {
		logger.Debug("mux state", slog.String("state", s.String()))
		if m.OnState != nil {
			m.OnState(s)
		}
		if s != StateFailed {
			reporter.Report(int(s), int(StateDone))
		}
	}
	defer func() {
		if err != nil {
			setState(StateFailed)
			logger.Error("mux failed", logging.Err(err))
		}
	}()

	if len(req.Video) == 0 {
		return nil, failure.New(failure.KindInvalidInput, op, "no video to mux")
	}

	sess, err := session.New(m.TempDir, logger)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindInternal, op, "open session")
	}
	defer sess.Close()
	release, err := sess.Acquire()
	if err != nil {
		return nil, failure.Wrap(err, failure.KindInternal, op, "acquire session")
	}
	defer release()

	setState(StateLoadingVideo)
	videoPath := sess.TempPath("source" + containerExt(req.Container))
	if err := os.WriteFile(videoPath, req.Video, 0o600); err != nil {
		return nil, failure.Wrap(err, failure.KindInternal, op, "stage video")
	}
	info, err := m.probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo() {
		return nil, failure.New(failure.KindInvalidInput, op, "source has no video stream")
	}

	setState(StateDurationDiscovery)
	seconds, err := m.discoverDuration(ctx, videoPath, info.Duration)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(math.Round(seconds * float64(time.Second)))
	logger.Info("video loaded",
		slog.String("codec", info.VideoCodec),
		slog.String("format", info.FormatName),
		slog.Duration("duration", duration))

	container := req.Container
	if container == "" {
		container = info.Container
	}
	if container == "" {
		return nil, failure.Newf(failure.KindInvalidInput, op, "unsupported container %q", info.FormatName)
	}
	caps := m.Capabilities
	if caps == nil {
		caps = video.ProbeCapabilities(ctx, m.FFmpegPath, logger)
	}
	audioCodec, err := video.AudioCodecFor(container, caps)
	if err != nil {
		return nil, err
	}

	setState(StateDecodingAudio)
	if m.Audio == nil {
		return nil, audio.ErrNoAudio
	}
	tracks, err := m.Audio.Load(ctx, req.Music, req.Voice)
	if err != nil {
		return nil, err
	}

	setState(StateRecording)
	rate, channels := m.busFormat()
	bus := audio.Mix(tracks, audio.FramesFor(duration, rate), rate, channels)
	if m.OnMix != nil {
		m.OnMix(bus)
	}
	data, err := m.record(ctx, video.RecordRequest{
		VideoPath:  videoPath,
		SampleRate: rate,
		Channels:   channels,
		Duration:   duration,
		Container:  container,
		AudioCodec: audioCodec,
	}, bus)
	if err != nil {
		return nil, err
	}

	setState(StateFlushing)
	minBytes := m.MinOutputBytes
	if minBytes <= 0 {
		minBytes = config.DefaultMinOutput
	}
	if len(data) < minBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", video.ErrOutputTooSmall, len(data), minBytes)
	}

	res = &video.Result{
		Data:      data,
		MIME:      video.MIMEForContainer(container),
		Codec:     info.VideoCodec,
		Container: container,
		Duration:  duration,
	}
	setState(StateDone)
	logger.Info("mux finished",
		slog.Int("tracks", len(tracks)),
		slog.String("audio_codec", audioCodec),
		slog.Int("bytes", len(data)))
	return res, nil
}

func (m *Muxer) loadTimeout() time.Duration {
	if m.LoadTimeout > 0 {
		return m.LoadTimeout
	}
	return config.DefaultLoadTimeout
}

func (m *Muxer) probe(ctx context.Context, path string) (video.ProbeInfo, error) {
	loadCtx, cancel := context.WithTimeout(ctx, m.loadTimeout())
	defer cancel()
	info, err := m.Prober.Probe(loadCtx, path)
	if err != nil {
		if ctx.Err() != nil {
			return video.ProbeInfo{}, ctx.Err()
		}
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			return video.ProbeInfo{}, fmt.Errorf("%w after %v", ErrVideoNotReady, m.loadTimeout())
		}
		return video.ProbeInfo{}, failure.Wrap(err, failure.KindInvalidInput, "mux.load", "probe video")
	}
	return info, nil
}

// discoverDuration falls back to a packet scan when the header duration is
// missing.
func (m *Muxer) discoverDuration(ctx context.Context, path string, seconds float64) (float64, error) {
	if validDuration(seconds) {
		return seconds, nil
	}
	logging.OrNop(m.Logger).Info("duration unknown, scanning packets", slog.Float64("header", seconds))

	scanCtx, cancel := context.WithTimeout(ctx, m.loadTimeout())
	defer cancel()
	seconds, err := m.Prober.ScanDuration(scanCtx, path)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: duration scan timed out", ErrVideoNotReady)
		}
		return 0, fmt.Errorf("%w: %v", ErrZeroDuration, err)
	}
	if !validDuration(seconds) {
		return 0, ErrZeroDuration
	}
	return seconds, nil
}

func validDuration(seconds float64) bool {
	return !math.IsNaN(seconds) && !math.IsInf(seconds, 0) && seconds > 0
}

// record streams the bus to the recorder under the safety timeout.
func (m *Muxer) record(ctx context.Context, req video.RecordRequest, bus *audio.Buffer) ([]byte, error) {
	margin := m.SafetyMargin
	if margin <= 0 {
		margin = config.DefaultSafetyMargin
	}
	recCtx, cancel := context.WithTimeout(ctx, req.Duration+margin)
	defer cancel()

	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		pw.CloseWithError(bus.WriteF32LE(pw))
	}()
	req.Audio = pr

	data, err := m.Recorder.Record(recCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(recCtx.Err(), context.DeadlineExceeded) && !failure.Is(err, failure.KindTimeout) {
			return nil, &failure.Error{Kind: failure.KindTimeout, Op: "mux.record", Msg: "recording exceeded its safety timeout", Err: err}
		}
		return nil, err
	}
	return data, nil
}

func containerExt(container string) string {
	if container == "" {
		return ".video"
	}
	return "." + container
}
