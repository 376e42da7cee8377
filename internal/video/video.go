package video

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/logging"
)

// FFmpegSink pipes raw RGBA frames into an ffmpeg child process and collects
// the encoded container from its stdout.
type FFmpegSink struct {
	codec  Codec
	opts   SinkOptions
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr lockedBuffer

	readDone chan struct{}
	chunks   [][]byte
	readErr  error

	frames   int
	stopOnce sync.Once
	stopped  bool
}

func NewFFmpegSink(codec Codec, opts SinkOptions) *FFmpegSink {
	return &FFmpegSink{
		codec:  codec,
		opts:   opts,
		logger: logging.WithComponent(opts.Logger, "ffmpeg-sink"),
	}
}

// Start launches ffmpeg. The process is not bound to ctx: a cancelled render
// still finalises its container through Stop.
func (s *FFmpegSink) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.opts.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	args := s.buildFFmpegArgs()
	s.cmd = exec.Command(path, args...)
	s.cmd.Stderr = &s.stderr

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return failure.Wrap(err, failure.KindCapability, "video.start", "ffmpeg start error")
	}
	s.stdin = stdin

	s.readDone = make(chan struct{})
	go func() {
		defer close(s.readDone)
		s.chunks, s.readErr = readChunks(stdout, s.opts.chunkSize())
	}()

	s.logger.Debug("encoder started",
		slog.String("codec", s.codec.Name),
		slog.String("args", strings.Join(args, " ")))
	return nil
}

func (s *FFmpegSink) buildFFmpegArgs() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height),
		"-framerate", fmt.Sprintf("%d", s.opts.FPS),
		"-i", "-",
		"-an",
	}
	// yuv420p needs even dimensions; odd sizes get one black row or column.
	if s.opts.Width%2 != 0 || s.opts.Height%2 != 0 {
		args = append(args, "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	}
	args = append(args, "-c:v", s.codec.Name, "-pix_fmt", "yuv420p")
	args = append(args, qualityArgs(s.codec.Name, s.opts.quality(s.codec))...)

	switch s.codec.Container {
	case ContainerMP4:
		// Fragmented MP4 can be written to a pipe.
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4")
	default:
		args = append(args, "-f", s.codec.Container)
	}
	return append(args, "pipe:1")
}

// qualityArgs maps the generic quality knob onto each encoder's rate control.
func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		bitrate := quality * 100
		return []string{"-b:v", fmt.Sprintf("%dk", bitrate)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	case "libvpx-vp9":
		return []string{"-crf", fmt.Sprintf("%d", quality), "-b:v", "0", "-deadline", "realtime", "-cpu-used", "8"}
	case "libvpx":
		return []string{"-crf", fmt.Sprintf("%d", quality), "-b:v", "2M", "-deadline", "realtime"}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

func (s *FFmpegSink) WriteFrame(f Frame) error {
	if s.stdin == nil {
		return fmt.Errorf("encoder not started")
	}
	if err := writeRawRGBA(s.stdin, f.Image); err != nil {
		return fmt.Errorf("write raw error: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	s.frames++
	return nil
}

// Stop closes ffmpeg's input, waits for it to flush and returns the encoded
// bytes. ctx bounds the wait; on expiry the process is killed.
func (s *FFmpegSink) Stop(ctx context.Context) (*Result, error) {
	if s.cmd == nil {
		return nil, fmt.Errorf("encoder not started")
	}
	if s.stopped {
		return nil, fmt.Errorf("encoder already stopped")
	}
	s.stopped = true
	s.stdin.Close()

	select {
	case <-s.readDone:
	case <-ctx.Done():
		s.kill()
		<-s.readDone
		return nil, failure.Wrap(ctx.Err(), failure.KindTimeout, "video.stop", "encoder flush interrupted")
	}
	if err := s.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg wait error: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	if s.readErr != nil {
		return nil, fmt.Errorf("read encoder output: %w", s.readErr)
	}

	data := joinChunks(s.chunks)
	s.chunks = nil
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

// Abort kills ffmpeg if it is still running.
func (s *FFmpegSink) Abort() {
	if s.cmd == nil || s.stopped {
		return
	}
	s.stopped = true
	s.kill()
	if s.stdin != nil {
		s.stdin.Close()
	}
	<-s.readDone
	_ = s.cmd.Wait()
}

// lockedBuffer collects ffmpeg's stderr, which exec copies from its own
// goroutine while frames are still being written.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *FFmpegSink) kill() {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
}
