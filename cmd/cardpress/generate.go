package main

import (
	"fmt"
	"os"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/pipeline"
	"github.com/weddinglabs/cardpress/render"
)

func newGenerateCommand() *cobra.Command {
	var (
		jobPath  string
		outPath  string
		fontDir  string
		scale    float64
		quality  int
		separate bool
		pattern  string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render every guest's cards and bundle them into a ZIP archive",
		Example: `  cardpress generate --job wedding.yaml --out cards.zip
  cardpress generate --job wedding.yaml --scale 2 --separate --pattern number`,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := LoadJobFile(jobPath)
			if err != nil {
				return err
			}

			names, err := job.GuestNames()
			if err != nil {
				return err
			}
			images, err := job.TemplateImages()
			if err != nil {
				return err
			}

			opts := job.RunOptions()
			if cmd.Flags().Changed("scale") {
				opts.Scale = scale
			}
			if cmd.Flags().Changed("quality") {
				opts.JPEGQuality = quality
			}
			if separate {
				opts.SeparatePages = true
			}
			if cmd.Flags().Changed("pattern") {
				opts.Naming = api.NamingPattern(pattern)
			}

			snap, err := api.NewSnapshot(names, images, job.Placements, opts)
			if err != nil {
				return err
			}

			fonts := render.NewFontRegistry()
			for _, dir := range []string{job.FontDir, fontDir} {
				if dir == "" {
					continue
				}
				if err := fonts.RegisterDir(dir); err != nil {
					return err
				}
			}

			runner := pipeline.NewRunner(fonts)
			run := runner.Start(cmd.Context(), snap)
			renderProgress(run.Updates())

			result := run.Wait()
			if result.Err != nil {
				return fmt.Errorf("generation failed: %w", result.Err)
			}
			for _, family := range result.Fonts.Substituted {
				logger.Warnf("font %q was not found; cards use the fallback font", family)
			}

			if err := os.WriteFile(outPath, result.Archive, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			logger.Infof("wrote %s (%d files, %d bytes)", outPath, result.Files, len(result.Archive))
			return nil
		},
	}

	cmd.Flags().StringVar(&jobPath, "job", "", "Job YAML describing names, templates and placements")
	cmd.Flags().StringVar(&outPath, "out", "cards.zip", "Output archive path")
	cmd.Flags().StringVar(&fontDir, "fonts", "", "Directory of .ttf/.otf fonts to register")
	cmd.Flags().Float64Var(&scale, "scale", 4, "Raster quality scale factor")
	cmd.Flags().IntVar(&quality, "quality", 92, "JPEG quality for page rasters")
	cmd.Flags().BoolVar(&separate, "separate", false, "One single-page PDF per page instead of merged documents")
	cmd.Flags().StringVar(&pattern, "pattern", "name", "Archive naming pattern: name or number")
	cmd.MarkFlagRequired("job")
	return cmd
}
