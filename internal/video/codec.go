package video

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/logging"
	"github.com/ivlev/animatic/internal/system"
)

// Container formats produced by the sinks and the muxer.
const (
	ContainerMP4  = "mp4"
	ContainerWebM = "webm"
	ContainerAVI  = "avi"
)

// ErrNoSupportedCodec means no preferred codec is available. It is reported
// before any frame is captured and retrying will not help.
var ErrNoSupportedCodec = failure.New(failure.KindCapability, "video.select", "no supported video codec")

// Codec describes one encoder and the container it is written into.
type Codec struct {
	Name      string
	Container string
	MIME      string
	// PureGo codecs need no ffmpeg.
	PureGo bool
	// DefaultQuality is used when the configured quality is 0.
	DefaultQuality int
}

// Ext is the output file extension including the dot.
func (c Codec) Ext() string {
	return "." + c.Container
}

var codecs = map[string]Codec{
	"h264_videotoolbox": {Name: "h264_videotoolbox", Container: ContainerMP4, MIME: "video/mp4", DefaultQuality: 75},
	"h264_nvenc":        {Name: "h264_nvenc", Container: ContainerMP4, MIME: "video/mp4", DefaultQuality: 23},
	"libx264":           {Name: "libx264", Container: ContainerMP4, MIME: "video/mp4", DefaultQuality: 23},
	"libvpx-vp9":        {Name: "libvpx-vp9", Container: ContainerWebM, MIME: "video/webm", DefaultQuality: 32},
	"libvpx":            {Name: "libvpx", Container: ContainerWebM, MIME: "video/webm", DefaultQuality: 10},
	"mjpeg":             {Name: "mjpeg", Container: ContainerAVI, MIME: "video/x-msvideo", PureGo: true, DefaultQuality: 85},
}

// DefaultPreference is the built-in codec order, hardware H.264 first and the
// pure-Go MJPEG writer last.
func DefaultPreference() []string {
	return []string{"h264_videotoolbox", "h264_nvenc", "libx264", "libvpx-vp9", "libvpx", "mjpeg"}
}

// LookupCodec returns the codec registered under name.
func LookupCodec(name string) (Codec, bool) {
	c, ok := codecs[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// MIMEForContainer maps a container to its MIME type.
func MIMEForContainer(container string) string {
	switch container {
	case ContainerMP4:
		return "video/mp4"
	case ContainerWebM:
		return "video/webm"
	case ContainerAVI:
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}

// Capabilities is the set of ffmpeg encoders available on this host.
type Capabilities map[string]bool

// ProbeCapabilities lists ffmpeg's encoders. A missing or broken ffmpeg
// yields an empty set, which still supports the pure-Go codecs.
func ProbeCapabilities(ctx context.Context, ffmpegPath string, logger *slog.Logger) Capabilities {
	encoders, err := system.ListEncoders(ctx, ffmpegPath)
	if err != nil {
		logging.OrNop(logger).Warn("ffmpeg unavailable, only pure-Go codecs can be used", logging.Err(err))
		return Capabilities{}
	}
	return Capabilities(encoders)
}

// Supports reports whether codec can run here.
func (c Capabilities) Supports(codec Codec) bool {
	return codec.PureGo || c[codec.Name]
}

// SelectCodec returns the first codec in prefs that caps supports. Unknown
// names are skipped. An empty prefs uses DefaultPreference.
func SelectCodec(prefs []string, caps Capabilities) (Codec, error) {
	if len(prefs) == 0 {
		prefs = DefaultPreference()
	}
	for _, name := range prefs {
		codec, ok := LookupCodec(name)
		if !ok {
			continue
		}
		if caps.Supports(codec) {
			return codec, nil
		}
	}
	return Codec{}, ErrNoSupportedCodec
}

// CodecStatus pairs a codec with its availability, for listings.
type CodecStatus struct {
	Name      string
	Known     bool
	Available bool
	Codec     Codec
}

// Statuses reports availability of every codec in prefs, in order.
func Statuses(prefs []string, caps Capabilities) []CodecStatus {
	if len(prefs) == 0 {
		prefs = DefaultPreference()
	}
	out := make([]CodecStatus, 0, len(prefs))
	for _, name := range prefs {
		codec, ok := LookupCodec(name)
		out = append(out, CodecStatus{
			Name:      name,
			Known:     ok,
			Available: ok && caps.Supports(codec),
			Codec:     codec,
		})
	}
	return out
}

// AudioCodecFor picks the audio encoder that fits container: AAC for MP4,
// Opus (or Vorbis) for WebM, PCM for AVI.
func AudioCodecFor(container string, caps Capabilities) (string, error) {
	var candidates []string
	switch container {
	case ContainerMP4:
		candidates = []string{"aac"}
	case ContainerWebM:
		candidates = []string{"libopus", "opus", "libvorbis"}
	case ContainerAVI:
		return "pcm_s16le", nil
	default:
		return "", failure.Newf(failure.KindCapability, "video.audio_codec", "unsupported container %q", container)
	}
	for _, name := range candidates {
		if caps[name] {
			return name, nil
		}
	}
	return "", failure.Newf(failure.KindCapability, "video.audio_codec",
		"no audio encoder for %s (tried %s)", container, strings.Join(candidates, ", "))
}

// ContainerFromFormat maps an ffprobe format_name to a container.
func ContainerFromFormat(formatName string) string {
	for _, f := range strings.Split(formatName, ",") {
		switch strings.TrimSpace(f) {
		case "mp4", "mov":
			return ContainerMP4
		case "webm", "matroska":
			return ContainerWebM
		case "avi":
			return ContainerAVI
		}
	}
	return ""
}
