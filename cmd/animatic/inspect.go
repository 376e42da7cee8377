package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/animatic/internal/director"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var holdMS int
	cmd := &cobra.Command{
		Use:   "inspect [storyboard|pdf|image-dir]",
		Short: "Print the frame schedule of a storyboard without rendering",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			input, err := resolveInput(arg, cfg)
			if err != nil {
				return err
			}
			sb, err := loadStoryboard(input, holdMS)
			if err != nil {
				return err
			}

			opts := cfg.Render.Merge(sb.Options).WithDefaults()
			if holdMS > 0 {
				opts.DefaultHoldMS = holdMS
			}
			tl, err := director.Plan(sb.Assets, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d assets, %dx%d @ %d fps\n", storyboardName(sb, input), len(sb.Assets), opts.Width, opts.Height, opts.FPS)
			fmt.Fprintln(out, renderTable(
				[]string{"#", "ID", "Seq", "Hold", "Frames", "Start", "Caption"},
				scheduleRows(tl),
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Lead-in %d frames, tail-out %d frames, %d frames total (%s)\n",
				tl.LeadInFrames, tl.TailOutFrames, tl.TotalFrames(), tl.Duration().Round(time.Millisecond))
			if !sb.Audio.Empty() {
				fmt.Fprintf(out, "Audio: music=%q voice=%q\n", sb.Audio.Music, sb.Audio.Voice)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&holdMS, "hold-ms", 0, "Hold for assets without hold_ms")
	return cmd
}

func scheduleRows(tl director.Timeline) [][]string {
	rows := make([][]string, 0, len(tl.Segments))
	for _, s := range tl.Segments {
		hold := "default"
		if s.Asset.HoldMS > 0 {
			hold = strconv.Itoa(s.Asset.HoldMS) + "ms"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Index + 1),
			s.Asset.ID,
			strconv.Itoa(s.Asset.Sequence),
			hold,
			strconv.Itoa(s.Frames),
			director.FramesDuration(s.StartFrame, tl.FPS).Round(time.Millisecond).String(),
			s.Asset.Caption,
		})
	}
	return rows
}
