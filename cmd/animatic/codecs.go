package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivlev/animatic/internal/video"
)

func newCodecsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "codecs",
		Short: "List video codecs in preference order and whether this host can use them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			caps := video.ProbeCapabilities(cmd.Context(), cfg.Encoder.FFmpegPath, logger)
			selected, selErr := video.SelectCodec(cfg.Encoder.Preference, caps)

			statuses := video.Statuses(cfg.Encoder.Preference, caps)
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				if !s.Known {
					rows = append(rows, []string{s.Name, "-", "-", "unknown", ""})
					continue
				}
				mark := ""
				if selErr == nil && s.Name == selected.Name {
					mark = "*"
				}
				rows = append(rows, []string{s.Name, s.Codec.Container, s.Codec.MIME, yesNo(s.Available), mark})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Codec", "Container", "MIME", "Available", "Selected"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))

			audioRows := make([][]string, 0, 3)
			for _, container := range []string{video.ContainerMP4, video.ContainerWebM, video.ContainerAVI} {
				name, err := video.AudioCodecFor(container, caps)
				if err != nil {
					name = "none"
				}
				audioRows = append(audioRows, []string{container, name})
			}
			fmt.Fprintln(out, renderTable([]string{"Container", "Audio codec"}, audioRows, nil))

			if selErr != nil {
				return selErr
			}
			return nil
		},
	}
}
