package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ivlev/animatic/internal/failure"
)

func TestSelectCodec(t *testing.T) {
	tests := []struct {
		name  string
		prefs []string
		caps  Capabilities
		want  string
	}{
		{"hardware first", nil, Capabilities{"h264_nvenc": true, "libx264": true}, "h264_nvenc"},
		{"software h264", nil, Capabilities{"libx264": true, "libvpx-vp9": true}, "libx264"},
		{"webm only", nil, Capabilities{"libvpx": true}, "libvpx"},
		{"no ffmpeg", nil, Capabilities{}, "mjpeg"},
		{"custom order", []string{"libvpx-vp9", "libx264"}, Capabilities{"libx264": true, "libvpx-vp9": true}, "libvpx-vp9"},
		{"unknown names skipped", []string{"prores", "libx264"}, Capabilities{"libx264": true}, "libx264"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectCodec(tt.prefs, tt.caps)
			if err != nil {
				t.Fatalf("SelectCodec: %v", err)
			}
			if got.Name != tt.want {
				t.Errorf("SelectCodec = %s, want %s", got.Name, tt.want)
			}
		})
	}
}

func TestSelectCodecNoneSupported(t *testing.T) {
	_, err := SelectCodec([]string{"libx264", "libvpx"}, Capabilities{})
	if !errors.Is(err, ErrNoSupportedCodec) {
		t.Fatalf("expected ErrNoSupportedCodec, got %v", err)
	}
	if !failure.Is(err, failure.KindCapability) {
		t.Errorf("expected capability failure, got kind %s", failure.KindOf(err))
	}
}

func TestStatuses(t *testing.T) {
	st := Statuses([]string{"libx264", "bogus", "mjpeg"}, Capabilities{})
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if st[0].Available || st[1].Known || !st[2].Available {
		t.Errorf("unexpected statuses %+v", st)
	}
}

func TestAudioCodecFor(t *testing.T) {
	caps := Capabilities{"aac": true, "libvorbis": true}
	if got, _ := AudioCodecFor(ContainerMP4, caps); got != "aac" {
		t.Errorf("mp4 audio = %s", got)
	}
	if got, _ := AudioCodecFor(ContainerWebM, caps); got != "libvorbis" {
		t.Errorf("webm audio = %s", got)
	}
	if got, _ := AudioCodecFor(ContainerAVI, Capabilities{}); got != "pcm_s16le" {
		t.Errorf("avi audio = %s", got)
	}
	if _, err := AudioCodecFor(ContainerMP4, Capabilities{}); !failure.Is(err, failure.KindCapability) {
		t.Errorf("expected capability error, got %v", err)
	}
}

func TestContainerFromFormat(t *testing.T) {
	tests := map[string]string{
		"mov,mp4,m4a,3gp,3g2,mj2": ContainerMP4,
		"matroska,webm":           ContainerWebM,
		"avi":                     ContainerAVI,
		"flv":                     "",
	}
	for in, want := range tests {
		if got := ContainerFromFormat(in); got != want {
			t.Errorf("ContainerFromFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQualityArgs(t *testing.T) {
	if got := strings.Join(qualityArgs("h264_videotoolbox", 75), " "); got != "-b:v 7500k" {
		t.Errorf("videotoolbox args = %q", got)
	}
	if got := strings.Join(qualityArgs("h264_nvenc", 23), " "); got != "-cq 23" {
		t.Errorf("nvenc args = %q", got)
	}
	if got := strings.Join(qualityArgs("libx264", 18), " "); got != "-crf 18 -preset medium" {
		t.Errorf("x264 args = %q", got)
	}
}

func TestFFmpegArgs(t *testing.T) {
	codec, _ := LookupCodec("libx264")
	s := NewFFmpegSink(codec, SinkOptions{Width: 320, Height: 180, FPS: 24})
	args := strings.Join(s.buildFFmpegArgs(), " ")
	for _, want := range []string{"-f rawvideo", "-pixel_format rgba", "-video_size 320x180", "-framerate 24", "-c:v libx264", "-crf 23", "frag_keyframe", "-f mp4 pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	webm, _ := LookupCodec("libvpx-vp9")
	args = strings.Join(NewFFmpegSink(webm, SinkOptions{Width: 2, Height: 2, FPS: 1}).buildFFmpegArgs(), " ")
	if !strings.HasSuffix(args, "-f webm pipe:1") {
		t.Errorf("webm args = %q", args)
	}
}

func TestFFmpegArgsPadOddSize(t *testing.T) {
	codec, _ := LookupCodec("libx264")
	args := strings.Join(NewFFmpegSink(codec, SinkOptions{Width: 641, Height: 361, FPS: 24}).buildFFmpegArgs(), " ")
	if !strings.Contains(args, "-video_size 641x361") {
		t.Errorf("args %q lost the surface size", args)
	}
	pad := strings.Index(args, "-vf pad=ceil(iw/2)*2:ceil(ih/2)*2")
	enc := strings.Index(args, "-c:v libx264")
	if pad < 0 || enc < 0 || pad > enc {
		t.Errorf("args %q want an even-size pad before the encoder", args)
	}

	even := strings.Join(NewFFmpegSink(codec, SinkOptions{Width: 640, Height: 360, FPS: 24}).buildFFmpegArgs(), " ")
	if strings.Contains(even, "-vf") {
		t.Errorf("even size should not be padded: %q", even)
	}
}

func TestLockedBufferConcurrentUse(t *testing.T) {
	var b lockedBuffer
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = b.Write([]byte("x"))
				_ = b.String()
			}
		}()
	}
	wg.Wait()
	if got := len(b.String()); got != 400 {
		t.Fatalf("len = %d, want 400", got)
	}
}

func TestRecordArgs(t *testing.T) {
	args := strings.Join(buildRecordArgs(RecordRequest{
		VideoPath:  "in.webm",
		SampleRate: 48000,
		Channels:   2,
		Duration:   4458 * time.Millisecond,
		Container:  ContainerWebM,
		AudioCodec: "libopus",
	}), " ")
	for _, want := range []string{"-i in.webm", "-f f32le -ar 48000 -ac 2 -i pipe:0", "-c:v copy", "-c:a libopus", "-t 4.458", "-f webm pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestWriteRawRGBA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 9, A: 255})

	var buf bytes.Buffer
	if err := writeRawRGBA(&buf, img); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4*2*4 {
		t.Fatalf("wrote %d bytes", buf.Len())
	}

	// A sub-image has a wider stride and must be repacked.
	sub := img.SubImage(image.Rect(1, 1, 3, 2)).(*image.RGBA)
	buf.Reset()
	if err := writeRawRGBA(&buf, sub); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 2*1*4 || buf.Bytes()[0] != 9 {
		t.Errorf("sub-image repack wrong: %v", buf.Bytes())
	}
}

func TestReadChunks(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10)
	chunks, err := readChunks(bytes.NewReader(data), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 || len(chunks[2]) != 2 {
		t.Errorf("unexpected chunking %v", chunks)
	}
	if !bytes.Equal(joinChunks(chunks), data) {
		t.Error("joined chunks differ from input")
	}
}

func TestParseProbeJSON(t *testing.T) {
	info, err := ParseProbeJSON([]byte(`{
		"streams": [{"codec_type": "video", "codec_name": "vp9", "width": 1280, "height": 720}],
		"format": {"format_name": "matroska,webm"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(info.Duration) {
		t.Errorf("missing duration should be NaN, got %v", info.Duration)
	}
	if info.Container != ContainerWebM || !info.HasVideo() || info.Width != 1280 {
		t.Errorf("unexpected info %+v", info)
	}

	info, _ = ParseProbeJSON([]byte(`{"streams": [], "format": {"format_name": "mov,mp4", "duration": "4.458000"}}`))
	if info.Duration != 4.458 || info.HasVideo() {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestParsePacketScan(t *testing.T) {
	out := []byte("0.000000,0.041667\n0.041667,0.041667\nN/A,N/A\n4.416667,0.041667\n")
	got := ParsePacketScan(out)
	if math.Abs(got-4.458334) > 1e-6 {
		t.Errorf("ParsePacketScan = %v", got)
	}
	if !math.IsNaN(ParsePacketScan([]byte("N/A,N/A\n"))) {
		t.Error("expected NaN without timestamps")
	}
}

func testFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestMJPEGSink(t *testing.T) {
	codec, _ := LookupCodec("mjpeg")
	sink := NewSink(codec, SinkOptions{Width: 64, Height: 48, FPS: 12, TempDir: t.TempDir()})
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	red := testFrame(64, 48, color.RGBA{R: 255, A: 255})
	blue := testFrame(64, 48, color.RGBA{B: 255, A: 255})
	for i := 0; i < 6; i++ {
		if err := sink.WriteFrame(Frame{Image: red, Seq: 1}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 6; i++ {
		if err := sink.WriteFrame(Frame{Image: blue, Seq: 2}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := sink.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.Frames != 12 || res.Duration != time.Second {
		t.Errorf("frames=%d duration=%v", res.Frames, res.Duration)
	}
	if res.MIME != "video/x-msvideo" || res.Ext() != ".avi" {
		t.Errorf("unexpected mime %s / ext %s", res.MIME, res.Ext())
	}
	if !bytes.HasPrefix(res.Data, []byte("RIFF")) || !bytes.Contains(res.Data[:16], []byte("AVI ")) {
		t.Error("output is not an AVI container")
	}
	sink.Abort()
}

func TestMJPEGSinkTooSmall(t *testing.T) {
	codec, _ := LookupCodec("mjpeg")
	sink := NewSink(codec, SinkOptions{Width: 8, Height: 8, FPS: 1, TempDir: t.TempDir(), MinOutputBytes: 1 << 30})
	if err := sink.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteFrame(Frame{Image: testFrame(8, 8, color.RGBA{A: 255}), Seq: 1}); err != nil {
		t.Fatal(err)
	}
	_, err := sink.Stop(context.Background())
	if !errors.Is(err, ErrOutputTooSmall) || !failure.Is(err, failure.KindSanity) {
		t.Fatalf("expected ErrOutputTooSmall, got %v", err)
	}
}

func TestFFmpegSinkEndToEnd(t *testing.T) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	caps := ProbeCapabilities(context.Background(), path, nil)
	codec, err := SelectCodec([]string{"libx264", "libvpx-vp9", "libvpx"}, caps)
	if err != nil {
		t.Skip("no software encoder available")
	}

	sink := NewSink(codec, SinkOptions{Width: 64, Height: 48, FPS: 10, FFmpegPath: path, MinOutputBytes: 1})
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sink.Abort()
	frame := testFrame(64, 48, color.RGBA{G: 200, A: 255})
	for i := 0; i < 20; i++ {
		if err := sink.WriteFrame(Frame{Image: frame, Seq: 1}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	res, err := sink.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.Frames != 20 || len(res.Data) == 0 || res.MIME != codec.MIME {
		t.Errorf("unexpected result: frames=%d bytes=%d mime=%s", res.Frames, len(res.Data), res.MIME)
	}
}
