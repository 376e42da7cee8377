package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivlev/animatic/internal/director"
	"github.com/ivlev/animatic/internal/source"
)

func newStoryboardCommand(ctx *commandContext) *cobra.Command {
	var (
		output string
		holdMS int
		music  string
		voice  string
	)
	cmd := &cobra.Command{
		Use:   "storyboard <pdf|image-dir>",
		Short: "Generate a storyboard manifest from a PDF or an image directory",
		Long: `Generate a storyboard manifest from a PDF or an image directory.

Each page or image becomes one asset, in order. Edit the result to add
captions or per-asset holds, then render it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			input := args[0]

			doc, err := source.OpenDocument(input)
			if err != nil {
				return err
			}
			defer doc.Close()
			if doc.PageCount() == 0 {
				return fmt.Errorf("%s has no pages or images", input)
			}

			name := director.StoryboardName(input)
			sb := director.FromDocument(doc, name, holdMS)
			sb.Audio.Music = music
			sb.Audio.Voice = voice
			if err := director.Validate(sb.Assets); err != nil {
				return err
			}

			out := output
			if out == "" {
				out = director.GenerateOutputPath(cfg.Paths.StoryboardDir, strings.ReplaceAll(name, " ", "_"), ".yaml")
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := director.WriteStoryboard(sb, out); err != nil {
				return fmt.Errorf("write storyboard: %w", err)
			}
			logger.Info("storyboard written",
				slog.String("path", out),
				slog.Int("assets", len(sb.Assets)))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "Manifest path, .yaml or .toml (default: <storyboard_dir>/<name>_<timestamp>.yaml)")
	flags.IntVar(&holdMS, "hold-ms", 0, "Hold written to every asset (0 leaves it to the render default)")
	flags.StringVar(&music, "music", "", "Music URL or file to record in the manifest")
	flags.StringVar(&voice, "voice", "", "Voice-over URL or file to record in the manifest")
	return cmd
}
