package director

import (
	"fmt"
	"time"

	"github.com/ivlev/animatic/internal/config"
	"github.com/ivlev/animatic/internal/failure"
	"github.com/ivlev/animatic/internal/source"
)

// Segment is one asset's slot on the timeline.
type Segment struct {
	Asset      Asset
	Index      int
	StartFrame int
	Frames     int
}

// Timeline is the frame-exact schedule of a render: black lead-in, each
// asset's held frames in order, black tail-out.
type Timeline struct {
	FPS           int
	LeadInFrames  int
	Segments      []Segment
	TailOutFrames int
}

// TotalFrames is the number of frames the render emits.
func (t Timeline) TotalFrames() int {
	n := t.LeadInFrames + t.TailOutFrames
	for _, s := range t.Segments {
		n += s.Frames
	}
	return n
}

// Duration is the playback length of the timeline.
func (t Timeline) Duration() time.Duration {
	return FramesDuration(t.TotalFrames(), t.FPS)
}

// FramesDuration converts a frame count to playback time.
func FramesDuration(frames, fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(fps)
}

// HoldFrames is the number of frames an asset held for ms stays on screen:
// round(ms*fps/1000), never less than one.
func HoldFrames(ms, fps int) int {
	if ms <= 0 || fps <= 0 {
		return 1
	}
	return max(1, (ms*fps+500)/1000)
}

// PaddingFrames is ceil(ms*fps/1000), the frame count covering a lead-in or
// tail-out of ms.
func PaddingFrames(ms, fps int) int {
	if ms <= 0 || fps <= 0 {
		return 0
	}
	return (ms*fps + 999) / 1000
}

// Validate checks a storyboard's assets: at least one, non-empty unique IDs,
// strictly increasing sequence numbers and non-negative holds.
func Validate(assets []Asset) error {
	const op = "director.validate"
	if len(assets) == 0 {
		return failure.New(failure.KindInvalidInput, op, "storyboard has no assets")
	}
	seen := make(map[string]bool, len(assets))
	for i, a := range assets {
		if a.ID == "" {
			return failure.Newf(failure.KindInvalidInput, op, "asset %d has no id", i)
		}
		if seen[a.ID] {
			return failure.Newf(failure.KindInvalidInput, op, "duplicate asset id %q", a.ID)
		}
		seen[a.ID] = true
		if a.HoldMS < 0 {
			return failure.Newf(failure.KindInvalidInput, op, "asset %q: hold_ms must not be negative", a.ID)
		}
		if i > 0 && a.Sequence <= assets[i-1].Sequence {
			return failure.Newf(failure.KindInvalidInput, op,
				"asset %q: sequence %d does not follow %d", a.ID, a.Sequence, assets[i-1].Sequence)
		}
	}
	return nil
}

// Plan validates assets and options and lays out the timeline. opts should
// already carry defaults.
func Plan(assets []Asset, opts config.RenderOptions) (Timeline, error) {
	if err := opts.Validate(); err != nil {
		return Timeline{}, failure.Wrap(err, failure.KindInvalidInput, "director.plan", "invalid render options")
	}
	if err := Validate(assets); err != nil {
		return Timeline{}, err
	}

	tl := Timeline{
		FPS:           opts.FPS,
		LeadInFrames:  PaddingFrames(opts.LeadIn(), opts.FPS),
		TailOutFrames: PaddingFrames(opts.TailOut(), opts.FPS),
		Segments:      make([]Segment, 0, len(assets)),
	}

	frame := tl.LeadInFrames
	for i, a := range assets {
		hold := a.HoldMS
		if hold == 0 {
			hold = opts.DefaultHoldMS
		}
		n := HoldFrames(hold, opts.FPS)
		tl.Segments = append(tl.Segments, Segment{
			Asset:      a,
			Index:      i,
			StartFrame: frame,
			Frames:     n,
		})
		frame += n
	}
	return tl, nil
}

// FromDocument seeds a storyboard with one asset per page of doc, each held
// for holdMS (0 keeps the default).
func FromDocument(doc source.Document, name string, holdMS int) *Storyboard {
	sb := &Storyboard{Version: "1.0", Name: name}
	for i := 0; i < doc.PageCount(); i++ {
		sb.Assets = append(sb.Assets, Asset{
			ID:       fmt.Sprintf("page-%03d", i+1),
			Sequence: i + 1,
			Image:    doc.PageRef(i),
			HoldMS:   holdMS,
		})
	}
	return sb
}
