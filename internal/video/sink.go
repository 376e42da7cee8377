package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"time"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/failure"
)

// ErrOutputTooSmall is returned when an encoder produced less than the
// minimum plausible output.
var ErrOutputTooSmall = failure.New(failure.KindSanity, "video.stop", "encoded output below minimum size")

// Frame is one composited surface. Seq changes whenever the surface content
// changes, so sinks may reuse encoded data for repeated frames.
type Frame struct {
	Image *image.RGBA
	Seq   uint64
}

// Sink consumes frames at a fixed rate and produces an encoded container.
type Sink interface {
	Start(ctx context.Context) error
	WriteFrame(f Frame) error
	// Stop finalises the container and returns the encoded output.
	Stop(ctx context.Context) (*Result, error)
	// Abort releases the encoder without producing output. Safe after Stop.
	Abort()
}

// Result is an encoded media file held in memory.
type Result struct {
	Data      []byte
	MIME      string
	Codec     string
	Container string
	Frames    int
	Duration  time.Duration
	Cancelled bool
}

// Ext is the file extension matching the container.
func (r *Result) Ext() string {
	if r.Container == "" {
		return ""
	}
	return "." + r.Container
}

// SinkOptions configures a sink.
type SinkOptions struct {
	Width   int
	Height  int
	FPS     int
	Quality int
	// FFmpegPath is the ffmpeg binary for non pure-Go codecs.
	FFmpegPath     string
	ChunkSize      int
	MinOutputBytes int
	// TempDir receives intermediate files.
	TempDir string
	Logger  *slog.Logger
}

// NewSinkOptions derives sink options from configuration.
func NewSinkOptions(render config.RenderOptions, enc config.Encoder, tempDir string, logger *slog.Logger) SinkOptions {
	return SinkOptions{
		Width:          render.Width,
		Height:         render.Height,
		FPS:            render.FPS,
		Quality:        enc.Quality,
		FFmpegPath:     enc.FFmpegPath,
		ChunkSize:      enc.ChunkSize,
		MinOutputBytes: enc.MinOutputBytes,
		TempDir:        tempDir,
		Logger:         logger,
	}
}

func (o SinkOptions) quality(codec Codec) int {
	if o.Quality > 0 {
		return o.Quality
	}
	return codec.DefaultQuality
}

func (o SinkOptions) chunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return config.DefaultChunkSize
}

func (o SinkOptions) minOutput() int {
	if o.MinOutputBytes > 0 {
		return o.MinOutputBytes
	}
	return config.DefaultMinOutput
}

// NewSink returns the sink implementation for codec.
func NewSink(codec Codec, opts SinkOptions) Sink {
	if codec.PureGo {
		return NewMJPEGSink(codec, opts)
	}
	return NewFFmpegSink(codec, opts)
}

func frameDuration(frames, fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(fps)
}

// checkOutput enforces the minimum output size.
func checkOutput(data []byte, minBytes int) error {
	if len(data) < minBytes {
		return fmt.Errorf("%w: got %d bytes, want at least %d", ErrOutputTooSmall, len(data), minBytes)
	}
	return nil
}

// writeRawRGBA writes img as tightly packed RGBA rows.
func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix[:bounds.Dx()*bounds.Dy()*4])
	return err
}

// readChunks drains r in size-byte chunks.
func readChunks(r io.Reader, size int) ([][]byte, error) {
	var chunks [][]byte
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
	}
}

func joinChunks(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
