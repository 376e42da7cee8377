package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/source"
)

// Decoder fetches an audio reference and converts it to the bus format.
type Decoder struct {
	Fetcher    source.Fetcher
	FFmpegPath string
	SampleRate int
	Channels   int
	// TempDir holds compressed inputs while ffmpeg decodes them.
	TempDir string
}

func (d *Decoder) busFormat() (int, int) {
	rate, ch := d.SampleRate, d.Channels
	if rate <= 0 {
		rate = config.DefaultSampleRate
	}
	if ch <= 0 {
		ch = config.DefaultChannels
	}
	return rate, ch
}

// Decode returns ref as bus-format PCM. PCM WAV is decoded in-process;
// everything else goes through ffmpeg.
func (d *Decoder) Decode(ctx context.Context, ref string) (*Buffer, error) {
	if d.Fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured")
	}
	data, err := d.Fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", ref)
	}

	rate, ch := d.busFormat()
	if IsWAV(data) {
		buf, err := DecodeWAV(data)
		if err == nil {
			return Resample(buf, rate, ch), nil
		}
		// Float and other non-PCM WAVs fall through to ffmpeg.
	}
	buf, err := d.decodeFFmpeg(ctx, data, rate, ch)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return buf, nil
}

// IsWAV sniffs a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV decodes integer PCM WAV data at its native rate and layout.
func DecodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("unsupported wav format %d", dec.WavAudioFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav pcm: %w", err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("wav without format")
	}
	return fromIntBuffer(pcm, int(dec.BitDepth)), nil
}

func fromIntBuffer(pcm *goaudio.IntBuffer, bitDepth int) *Buffer {
	out := &Buffer{
		Samples:    make([]float32, len(pcm.Data)),
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
	}
	// 8-bit WAV is unsigned, centred on 128.
	if bitDepth == 8 {
		for i, v := range pcm.Data {
			out.Samples[i] = float32(v-128) / 128
		}
		return out
	}
	scale := float32(int64(1) << (bitDepth - 1))
	for i, v := range pcm.Data {
		out.Samples[i] = float32(v) / scale
	}
	return out
}

func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte, rate, channels int) (*Buffer, error) {
	// Containers such as MP4 need a seekable input, so decode from a file.
	tmp, err := os.CreateTemp(d.TempDir, "audio-src-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	path := d.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", tmp.Name(),
		"-vn",
		"-f", "f32le",
		"-ar", strconv.Itoa(rate),
		"-ac", strconv.Itoa(channels),
		"pipe:1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	raw, readErr := io.ReadAll(stdout)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg decode error: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil {
		return nil, readErr
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no samples")
	}
	return ParseF32LE(raw, rate, channels), nil
}

// WriteWAV encodes b as 16-bit PCM WAV.
func WriteWAV(w io.WriteSeeker, b *Buffer) error {
	enc := wav.NewEncoder(w, b.SampleRate, 16, b.Channels, 1)
	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		data[i] = int(clip(s) * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}
