package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/render"
)

func newPreviewCommand() *cobra.Command {
	var (
		jobPath string
		outDir  string
		fontDir string
		name    string
		asSVG   bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render per-page previews for one guest without generating the batch",
		Example: `  cardpress preview --job wedding.yaml --out previews/
  cardpress preview --job wedding.yaml --name "Amit Patel" --svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := LoadJobFile(jobPath)
			if err != nil {
				return err
			}
			images, err := job.TemplateImages()
			if err != nil {
				return err
			}
			if name == "" {
				if names, err := job.GuestNames(); err == nil && len(names) > 0 {
					name = names[0]
				}
			}

			fonts := render.NewFontRegistry()
			for _, dir := range []string{job.FontDir, fontDir} {
				if dir != "" {
					if err := fonts.RegisterDir(dir); err != nil {
						return err
					}
				}
			}
			comp := render.NewCompositor(fonts)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			snap, err := api.NewSnapshot([]string{firstNonEmpty(name, "Sample Name")}, images, job.Placements, job.RunOptions())
			if err != nil {
				return err
			}

			for i, cfg := range snap.OrderedPages() {
				tpl := snap.Images[cfg.ImageIndex]
				var data []byte
				var ext string
				if asSVG {
					data, err = render.PreviewSVG(tpl, cfg, name)
					ext = "svg"
				} else {
					data, err = comp.PreviewPNG(context.Background(), tpl, cfg, name)
					ext = "png"
				}
				if err != nil {
					return fmt.Errorf("preview page %d: %w", i+1, err)
				}
				path := filepath.Join(outDir, fmt.Sprintf("page_%d.%s", i+1, ext))
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				logger.Infof("wrote %s", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobPath, "job", "", "Job YAML describing templates and placements")
	cmd.Flags().StringVar(&outDir, "out", "previews", "Output directory")
	cmd.Flags().StringVar(&fontDir, "fonts", "", "Directory of .ttf/.otf fonts to register")
	cmd.Flags().StringVar(&name, "name", "", "Guest name to preview (default: first guest)")
	cmd.Flags().BoolVar(&asSVG, "svg", false, "Write SVG overlays instead of composited PNGs")
	cmd.MarkFlagRequired("job")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
