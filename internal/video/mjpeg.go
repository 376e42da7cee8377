package video

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/icza/mjpeg"

	"github.com/ivlev/animatic/internal/logging"
)

// MJPEGSink writes an MJPEG AVI in pure Go. Each surface generation is
// JPEG-encoded once and repeated for held frames.
type MJPEGSink struct {
	codec  Codec
	opts   SinkOptions
	logger *slog.Logger

	path   string
	writer mjpeg.AviWriter

	lastSeq  uint64
	lastJPEG []byte
	buf      bytes.Buffer
	frames   int
	done     bool
}

func NewMJPEGSink(codec Codec, opts SinkOptions) *MJPEGSink {
	return &MJPEGSink{
		codec:  codec,
		opts:   opts,
		logger: logging.WithComponent(opts.Logger, "mjpeg-sink"),
	}
}

func (s *MJPEGSink) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	s.path = filepath.Join(dir, "mjpeg-"+uuid.NewString()+".avi")

	w, err := mjpeg.New(s.path, int32(s.opts.Width), int32(s.opts.Height), int32(s.opts.FPS))
	if err != nil {
		return fmt.Errorf("failed to create video writer: %w", err)
	}
	s.writer = w
	s.logger.Debug("encoder started", slog.String("path", s.path))
	return nil
}

func (s *MJPEGSink) WriteFrame(f Frame) error {
	if s.writer == nil {
		return fmt.Errorf("encoder not started")
	}
	if s.lastJPEG == nil || f.Seq != s.lastSeq {
		s.buf.Reset()
		if err := jpeg.Encode(&s.buf, f.Image, &jpeg.Options{Quality: s.opts.quality(s.codec)}); err != nil {
			return fmt.Errorf("failed to encode frame %d as JPEG: %w", s.frames, err)
		}
		s.lastJPEG = append(s.lastJPEG[:0], s.buf.Bytes()...)
		s.lastSeq = f.Seq
	}
	if err := s.writer.AddFrame(s.lastJPEG); err != nil {
		return fmt.Errorf("failed to add frame %d: %w", s.frames, err)
	}
	s.frames++
	return nil
}

func (s *MJPEGSink) Stop(ctx context.Context) (*Result, error) {
	if s.writer == nil {
		return nil, fmt.Errorf("encoder not started")
	}
	if s.done {
		return nil, fmt.Errorf("encoder already stopped")
	}
	s.done = true
	defer os.Remove(s.path)

	if err := s.writer.Close(); err != nil {
		return nil, fmt.Errorf("finalise avi: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read avi: %w", err)
	}
	if err := checkOutput(data, s.opts.minOutput()); err != nil {
		return nil, err
	}

	s.logger.Debug("encoder finished", slog.Int("frames", s.frames), slog.Int("bytes", len(data)))
	return &Result{
		Data:      data,
		MIME:      s.codec.MIME,
		Codec:     s.codec.Name,
		Container: s.codec.Container,
		Frames:    s.frames,
		Duration:  frameDuration(s.frames, s.opts.FPS),
	}, nil
}

func (s *MJPEGSink) Abort() {
	if s.writer == nil || s.done {
		return
	}
	s.done = true
	_ = s.writer.Close()
	_ = os.Remove(s.path)
}
