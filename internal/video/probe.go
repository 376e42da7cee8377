package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"

	"github.com/ivlev/animatic/internal/system"
)

// ProbeInfo is what the muxer needs to know about a source video.
type ProbeInfo struct {
	// Duration in seconds; NaN or Inf when the container does not say.
	Duration   float64
	FormatName string
	Container  string
	VideoCodec string
	Width      int
	Height     int
}

// HasVideo reports whether a video stream was found.
func (p ProbeInfo) HasVideo() bool {
	return p.VideoCodec != ""
}

// FFprobe inspects media files with the ffprobe binary.
type FFprobe struct {
	Path string
}

type probeResult struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (p FFprobe) binary() string {
	if b := strings.TrimSpace(p.Path); b != "" {
		return b
	}
	return "ffprobe"
}

// Probe reads container and stream metadata from path.
func (p FFprobe) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	if strings.TrimSpace(path) == "" {
		return ProbeInfo{}, errors.New("ffprobe inspect: empty path")
	}
	cmd := exec.CommandContext(ctx, p.binary(), "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return ProbeInfo{}, ctx.Err()
		}
		return ProbeInfo{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return ParseProbeJSON(output)
}

// ParseProbeJSON decodes `ffprobe -show_format -show_streams -of json`.
func ParseProbeJSON(data []byte) (ProbeInfo, error) {
	var res probeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	info := ProbeInfo{
		Duration:   system.ParseSeconds(res.Format.Duration),
		FormatName: res.Format.FormatName,
		Container:  ContainerFromFormat(res.Format.FormatName),
	}
	for _, s := range res.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}

// ScanDuration walks every video packet and returns the end time of the
// last one. It recovers the length of streams whose header carries none.
func (p FFprobe) ScanDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.binary(), "-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,duration_time",
		"-of", "csv=p=0", "--", path)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("ffprobe packet scan: %w", err)
	}
	return ParsePacketScan(output), nil
}

// ParsePacketScan returns max(pts + duration) over "pts,duration" lines, or
// NaN when no packet carries a timestamp.
func ParsePacketScan(out []byte) float64 {
	end := math.NaN()
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) == 0 {
			continue
		}
		pts := system.ParseSeconds(fields[0])
		if math.IsNaN(pts) || math.IsInf(pts, 0) {
			continue
		}
		t := pts
		if len(fields) > 1 {
			if d := system.ParseSeconds(fields[1]); !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0 {
				t += d
			}
		}
		if math.IsNaN(end) || t > end {
			end = t
		}
	}
	return end
}
