package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/animatic/internal/audio"
	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/progress"
	"github.com/ivlev/animatic/internal/source"
	"github.com/ivlev/animatic/internal/video"
)

type fakeProber struct {
	info  video.ProbeInfo
	scan  float64
	block bool
	calls []string
}

func (p *fakeProber) Probe(ctx context.Context, path string) (video.ProbeInfo, error) {
	p.calls = append(p.calls, "probe")
	if _, err := os.Stat(path); err != nil {
		return video.ProbeInfo{}, err
	}
	if p.block {
		<-ctx.Done()
		return video.ProbeInfo{}, ctx.Err()
	}
	return p.info, nil
}

func (p *fakeProber) ScanDuration(ctx context.Context, path string) (float64, error) {
	p.calls = append(p.calls, "scan")
	return p.scan, nil
}

type fakeRecorder struct {
	out      []byte
	block    bool
	calls    int
	req      video.RecordRequest
	pcmBytes int
	budget   time.Duration
}

func (r *fakeRecorder) Record(ctx context.Context, req video.RecordRequest) ([]byte, error) {
	r.calls++
	r.req = req
	if dl, ok := ctx.Deadline(); ok {
		r.budget = time.Until(dl)
	}
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	n, err := io.Copy(io.Discard, req.Audio)
	r.pcmBytes = int(n)
	return r.out, err
}

func mp4Info(seconds float64) video.ProbeInfo {
	return video.ProbeInfo{
		Duration:   seconds,
		FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
		Container:  video.ContainerMP4,
		VideoCodec: "h264",
		Width:      1280,
		Height:     720,
	}
}

// toneFile writes a short constant-valued WAV and returns its path.
func toneFile(t *testing.T, value float32) string {
	t.Helper()
	buf := audio.NewBuffer(4800, 48000, 1)
	for i := range buf.Samples {
		buf.Samples[i] = value
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, buf); err != nil {
		t.Fatal(err)
	}
	return path
}

type harness struct {
	muxer    *Muxer
	prober   *fakeProber
	recorder *fakeRecorder
	states   []State
	tempDir  string
}

func newHarness(t *testing.T, info video.ProbeInfo) *harness {
	t.Helper()
	h := &harness{
		prober:   &fakeProber{info: info},
		recorder: &fakeRecorder{out: bytes.Repeat([]byte("m"), 4096)},
		tempDir:  t.TempDir(),
	}
	h.muxer = &Muxer{
		Prober:   h.prober,
		Recorder: h.recorder,
		Audio: audio.NewEngine(&audio.Decoder{
			Fetcher:    source.NewFetcher(5 * time.Second),
			FFmpegPath: filepath.Join(t.TempDir(), "no-ffmpeg"),
			TempDir:    t.TempDir(),
		}, nil),
		Capabilities: video.Capabilities{"aac": true, "libopus": true},
		LoadTimeout:  time.Second,
		SafetyMargin: 3 * time.Second,
		TempDir:      h.tempDir,
		OnState:      func(s State) { h.states = append(h.states, s) },
	}
	return h
}

func (h *harness) assertCleaned(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("session left %d entries behind", len(entries))
	}
}

func (h *harness) lastState() State {
	if len(h.states) == 0 {
		return -1
	}
	return h.states[len(h.states)-1]
}

func videoBytes() []byte {
	return bytes.Repeat([]byte{0}, 2048)
}

func TestMuxBothSources(t *testing.T) {
	h := newHarness(t, mp4Info(4.458))
	var events []progress.Event
	h.muxer.Progress = func(ev progress.Event) { events = append(events, ev) }
	var mixed *audio.Buffer
	h.muxer.OnMix = func(b *audio.Buffer) { mixed = b }

	res, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Music: audio.Source{Name: "music", Ref: toneFile(t, 0.5), GainDB: -10},
		Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
	})
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if res.MIME != "video/mp4" || res.Container != video.ContainerMP4 || res.Duration != 4458*time.Millisecond {
		t.Errorf("unexpected result %+v", res)
	}

	want := []State{StateLoadingVideo, StateDurationDiscovery, StateDecodingAudio, StateRecording, StateFlushing, StateDone}
	if len(h.states) != len(want) {
		t.Fatalf("states = %v, want %v", h.states, want)
	}
	for i := range want {
		if h.states[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, h.states[i], want[i])
		}
	}
	if last := events[len(events)-1]; last.Fraction() != 1 {
		t.Errorf("final progress = %+v", last)
	}

	req := h.recorder.req
	if req.AudioCodec != "aac" || req.SampleRate != 48000 || req.Channels != 2 {
		t.Errorf("unexpected record request %+v", req)
	}
	if mixed == nil || mixed.Frames() != 213984 {
		t.Fatalf("mixed bus not reported or wrong length")
	}
	// music 0.5 at -10 dB plus voice 0.25 at unity.
	if got := mixed.Samples[0]; math.Abs(float64(got)-(0.5*0.316228+0.25)) > 1e-3 {
		t.Errorf("mixed sample = %v", got)
	}
	if mixed.Samples[4800*2] != 0 {
		t.Error("bus should be silent after both sources end")
	}
	if h.recorder.pcmBytes != 213984*2*4 {
		t.Errorf("pcm bytes = %d, want %d", h.recorder.pcmBytes, 213984*2*4)
	}
	if b := h.recorder.budget; b <= 7*time.Second || b > 7458*time.Millisecond {
		t.Errorf("recording budget = %v, want duration plus 3s", b)
	}
	h.assertCleaned(t)
}

func TestMuxRecoversUnknownDuration(t *testing.T) {
	info := mp4Info(math.NaN())
	info.Container = video.ContainerWebM
	h := newHarness(t, info)
	h.prober.scan = 4.458

	_, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
	})
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if len(h.prober.calls) != 2 || h.prober.calls[1] != "scan" {
		t.Errorf("prober calls = %v", h.prober.calls)
	}
	if h.recorder.req.Duration != 4458*time.Millisecond {
		t.Errorf("recorded duration = %v, want the scanned one", h.recorder.req.Duration)
	}
	if h.recorder.req.AudioCodec != "libopus" {
		t.Errorf("webm audio codec = %s", h.recorder.req.AudioCodec)
	}
}

func TestMuxZeroDuration(t *testing.T) {
	for name, header := range map[string]float64{"zero": 0, "nan": math.NaN(), "inf": math.Inf(1)} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, mp4Info(header))
			h.prober.scan = math.NaN()

			_, err := h.muxer.Mux(context.Background(), Request{
				Video: videoBytes(),
				Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
			})
			if !errors.Is(err, ErrZeroDuration) {
				t.Fatalf("expected ErrZeroDuration, got %v", err)
			}
			if h.recorder.calls != 0 {
				t.Error("recorder ran without a duration")
			}
			if h.lastState() != StateFailed {
				t.Errorf("last state = %v", h.lastState())
			}
			h.assertCleaned(t)
		})
	}
}

func TestMuxVideoNotReady(t *testing.T) {
	h := newHarness(t, mp4Info(4))
	h.prober.block = true
	h.muxer.LoadTimeout = 50 * time.Millisecond

	_, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
	})
	if !errors.Is(err, ErrVideoNotReady) || !failure.Is(err, failure.KindTimeout) {
		t.Fatalf("expected ErrVideoNotReady, got %v", err)
	}
	if h.recorder.calls != 0 {
		t.Error("recorder ran for an unloaded video")
	}
	h.assertCleaned(t)
}

func TestMuxNoAudio(t *testing.T) {
	h := newHarness(t, mp4Info(4))
	missing := filepath.Join(t.TempDir(), "missing.mp3")

	_, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Music: audio.Source{Name: "music", Ref: missing},
		Voice: audio.Source{Name: "voice", Ref: missing},
	})
	if !errors.Is(err, audio.ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
	if err.Error() != "no audio could be loaded" {
		t.Errorf("message = %q", err.Error())
	}
	if h.lastState() != StateFailed {
		t.Errorf("last state = %v", h.lastState())
	}
	h.assertCleaned(t)
}

func TestMuxVoiceOnly(t *testing.T) {
	h := newHarness(t, mp4Info(1))
	_, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Music: audio.Source{Name: "music", Ref: filepath.Join(t.TempDir(), "missing.mp3")},
		Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
	})
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if h.recorder.pcmBytes != 48000*2*4 {
		t.Errorf("pcm bytes = %d", h.recorder.pcmBytes)
	}
}

func TestMuxRecordingTimeout(t *testing.T) {
	h := newHarness(t, mp4Info(0.05))
	h.recorder.block = true
	h.muxer.SafetyMargin = 50 * time.Millisecond

	_, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
	})
	if !failure.Is(err, failure.KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	h.assertCleaned(t)
}

func TestMuxOutputTooSmall(t *testing.T) {
	h := newHarness(t, mp4Info(1))
	h.recorder.out = []byte("tiny")

	_, err := h.muxer.Mux(context.Background(), Request{
		Video: videoBytes(),
		Voice: audio.Source{Name: "voice", Ref: toneFile(t, 0.25)},
	})
	if !errors.Is(err, video.ErrOutputTooSmall) {
		t.Fatalf("expected ErrOutputTooSmall, got %v", err)
	}
}

func TestMuxRejectsEmptyVideo(t *testing.T) {
	h := newHarness(t, mp4Info(1))
	_, err := h.muxer.Mux(context.Background(), Request{})
	if !failure.Is(err, failure.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSources(t *testing.T) {
	music, voice := Sources(config.Mux{}, "m.mp3", "v.wav")
	if music.GainDB != -10 || voice.GainDB != 0 || music.Ref != "m.mp3" || voice.Name != "voice" {
		t.Errorf("unexpected sources %+v %+v", music, voice)
	}
}

func TestStateString(t *testing.T) {
	if StateDurationDiscovery.String() != "duration_discovery" || State(42).String() != "state(42)" {
		t.Error("unexpected state names")
	}
}
