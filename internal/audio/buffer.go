package audio

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// Buffer is interleaved float32 PCM in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// NewBuffer allocates a silent buffer of frames sample frames.
func NewBuffer(frames, sampleRate, channels int) *Buffer {
	return &Buffer{
		Samples:    make([]float32, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Frames is the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration is the playback length.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// FramesFor is the number of sample frames covering d at sampleRate.
func FramesFor(d time.Duration, sampleRate int) int {
	return int((d.Nanoseconds()*int64(sampleRate) + int64(time.Second) - 1) / int64(time.Second))
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float32 {
	var peak float32
	for _, s := range b.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// WriteF32LE writes the samples as little-endian float32, the layout
// ffmpeg reads with "-f f32le".
func (b *Buffer) WriteF32LE(w io.Writer) error {
	const batch = 4096
	buf := make([]byte, 0, batch*4)
	for i, s := range b.Samples {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s))
		if (i+1)%batch == 0 {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ParseF32LE reads interleaved little-endian float32 samples. A trailing
// partial sample is ignored.
func ParseF32LE(data []byte, sampleRate, channels int) *Buffer {
	n := len(data) / 4
	if channels > 0 {
		n -= n % channels
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

// Resample converts b to sampleRate and channels by channel mapping and
// linear interpolation. b is returned unchanged when it already matches.
func Resample(b *Buffer, sampleRate, channels int) *Buffer {
	if b == nil || b.Channels <= 0 || b.SampleRate <= 0 {
		return NewBuffer(0, sampleRate, channels)
	}
	out := remapChannels(b, channels)
	if out.SampleRate == sampleRate {
		return out
	}

	inFrames := out.Frames()
	outFrames := int(int64(inFrames) * int64(sampleRate) / int64(out.SampleRate))
	res := NewBuffer(outFrames, sampleRate, channels)
	if inFrames == 0 {
		return res
	}

	step := float64(out.SampleRate) / float64(sampleRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		j := int(pos)
		if j >= inFrames {
			j = inFrames - 1
		}
		k := min(j+1, inFrames-1)
		frac := float32(pos - float64(j))
		for c := 0; c < channels; c++ {
			a := out.Samples[j*channels+c]
			z := out.Samples[k*channels+c]
			res.Samples[i*channels+c] = a + (z-a)*frac
		}
	}
	return res
}

// remapChannels converts between channel layouts: stereo to mono averages,
// other conversions repeat or drop source channels.
func remapChannels(b *Buffer, channels int) *Buffer {
	if b.Channels == channels {
		return b
	}
	frames := b.Frames()
	res := NewBuffer(frames, b.SampleRate, channels)
	for f := 0; f < frames; f++ {
		src := b.Samples[f*b.Channels : (f+1)*b.Channels]
		dst := res.Samples[f*channels : (f+1)*channels]
		if channels == 1 {
			var sum float32
			for _, s := range src {
				sum += s
			}
			dst[0] = sum / float32(len(src))
			continue
		}
		for c := range dst {
			dst[c] = src[c%len(src)]
		}
	}
	return res
}
