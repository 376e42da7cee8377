// Package audio decodes, gains and mixes the soundtrack sources of an
// animatic onto a single 48 kHz stereo bus.
package audio

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/logging"
)

// ErrNoAudio means none of the requested sources could be decoded.
var ErrNoAudio = failure.New(failure.KindInvalidInput, "", "no audio could be loaded")

// Source is one audio input with its gain in decibels.
type Source struct {
	Name   string
	Ref    string
	GainDB float64
}

// Track is a decoded source ready for mixing.
type Track struct {
	Name   string
	Buffer *Buffer
	Gain   float64
}

// Engine loads sources in parallel and mixes them.
type Engine struct {
	Decoder *Decoder
	Logger  *slog.Logger
}

func NewEngine(decoder *Decoder, logger *slog.Logger) *Engine {
	return &Engine{Decoder: decoder, Logger: logging.WithComponent(logger, "audio")}
}

// Load decodes every source with a non-empty Ref. A source that fails is
// logged and left out; when none succeeds Load returns ErrNoAudio. Tracks
// keep the order of sources.
func (e *Engine) Load(ctx context.Context, sources ...Source) ([]Track, error) {
	logger := logging.OrNop(e.Logger)
	results := make([]*Track, len(sources))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		if src.Ref == "" {
			continue
		}
		g.Go(func() error {
			buf, err := e.Decoder.Decode(gctx, src.Ref)
			if err != nil {
				logger.Warn("audio source dropped",
					slog.String("source", src.Name),
					slog.String("ref", src.Ref),
					logging.Err(err))
				return nil
			}
			logger.Debug("audio source decoded",
				slog.String("source", src.Name),
				slog.Duration("duration", buf.Duration()),
				slog.Float64("gain_db", src.GainDB))
			mu.Lock()
			results[i] = &Track{Name: src.Name, Buffer: buf, Gain: DBToGain(src.GainDB)}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tracks []Track
	for _, t := range results {
		if t != nil {
			tracks = append(tracks, *t)
		}
	}
	if len(tracks) == 0 {
		return nil, ErrNoAudio
	}
	return tracks, nil
}

// Mix sums every track from t=0 with its gain onto a bus of frames sample
// frames, clipping to [-1, 1]. Tracks must already be in the bus format;
// shorter tracks fall silent, longer ones are cut.
func Mix(tracks []Track, frames, sampleRate, channels int) *Buffer {
	bus := NewBuffer(frames, sampleRate, channels)
	for _, t := range tracks {
		src := Resample(t.Buffer, sampleRate, channels)
		n := min(len(src.Samples), len(bus.Samples))
		g := float32(t.Gain)
		for i := 0; i < n; i++ {
			bus.Samples[i] += src.Samples[i] * g
		}
	}
	for i, s := range bus.Samples {
		bus.Samples[i] = clip(s)
	}
	return bus
}

func clip(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
