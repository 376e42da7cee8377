package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/logging"
)

// RecordRequest describes one audio/video mux.
type RecordRequest struct {
	VideoPath string
	// Audio is interleaved little-endian float32 PCM.
	Audio      io.Reader
	SampleRate int
	Channels   int
	Duration   time.Duration
	Container  string
	AudioCodec string
}

// FFmpegRecorder stream-copies the video track and encodes the mixed audio
// into the same container, returning the muxed bytes.
type FFmpegRecorder struct {
	Path      string
	ChunkSize int
	Logger    *slog.Logger
}

// Record runs ffmpeg until it finishes or ctx expires.
func (r *FFmpegRecorder) Record(ctx context.Context, req RecordRequest) ([]byte, error) {
	path := r.Path
	if path == "" {
		path = "ffmpeg"
	}
	chunkSize := r.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	logger := logging.WithComponent(r.Logger, "recorder")

	args := buildRecordArgs(req)
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, failure.Wrap(err, failure.KindCapability, "video.record", "ffmpeg start error")
	}
	logger.Debug("recording", slog.String("args", strings.Join(args, " ")))

	writeErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, req.Audio)
		stdin.Close()
		writeErr <- err
	}()

	chunks, readErr := readChunks(stdout, chunkSize)
	waitErr := cmd.Wait()
	copyErr := <-writeErr

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, failure.Wrap(ctx.Err(), failure.KindTimeout, "video.record", "recording exceeded its safety timeout")
		}
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg mux error: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read mux output: %w", readErr)
	}
	// ffmpeg may stop reading once -t is reached.
	if copyErr != nil && !isClosedPipe(copyErr) {
		return nil, fmt.Errorf("write audio: %w", copyErr)
	}
	return joinChunks(chunks), nil
}

func buildRecordArgs(req RecordRequest) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", req.VideoPath,
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", req.SampleRate),
		"-ac", fmt.Sprintf("%d", req.Channels),
		"-i", "pipe:0",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", req.AudioCodec,
	}
	switch req.AudioCodec {
	case "aac", "libopus", "opus", "libvorbis":
		args = append(args, "-b:a", "192k")
	}
	args = append(args, "-t", fmt.Sprintf("%.3f", req.Duration.Seconds()))

	switch req.Container {
	case ContainerMP4:
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4")
	default:
		args = append(args, "-f", req.Container)
	}
	return append(args, "pipe:1")
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}
