package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/render"
)

// JobFile is the YAML description of a batch run: where the guest names
// and template images come from, plus the placement settings the wizard
// would otherwise capture interactively.
type JobFile struct {
	// Names inline, or NamesFile pointing at a newline-separated list.
	Names     []string `yaml:"names,omitempty"`
	NamesFile string   `yaml:"namesFile,omitempty"`

	// Images are template file paths in upload order. SVG templates are
	// rasterized on load.
	Images []string `yaml:"images"`

	Placements []api.PlacementConfig `yaml:"placements"`

	// FontDir holds .ttf/.otf files registered before the run.
	FontDir string `yaml:"fontDir,omitempty"`

	Scale         float64           `yaml:"scale,omitempty"`
	JPEGQuality   int               `yaml:"jpegQuality,omitempty"`
	Format        api.OutputFormat  `yaml:"format,omitempty"`
	Naming        api.NamingPattern `yaml:"naming,omitempty"`
	SeparatePages bool              `yaml:"separatePages,omitempty"`
}

// LoadJobFile parses a job YAML; relative paths resolve against the job
// file's directory.
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var job JobFile
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}

	base := filepath.Dir(path)
	job.NamesFile = resolvePath(base, job.NamesFile)
	job.FontDir = resolvePath(base, job.FontDir)
	for i, img := range job.Images {
		job.Images[i] = resolvePath(base, img)
	}
	return &job, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// GuestNames returns the guest list from the inline names or the names
// file, preserving order and dropping blank lines.
func (j *JobFile) GuestNames() ([]string, error) {
	if len(j.Names) > 0 {
		return j.Names, nil
	}
	if j.NamesFile == "" {
		return nil, fmt.Errorf("job file needs names or namesFile")
	}
	data, err := os.ReadFile(j.NamesFile)
	if err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// TemplateImages loads every template, rasterizing SVG files.
func (j *JobFile) TemplateImages() ([]*api.TemplateImage, error) {
	images := make([]*api.TemplateImage, 0, len(j.Images))
	for _, path := range j.Images {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", path, err)
		}
		if render.IsSVG(data) {
			if data, err = render.RasterizeSVG(data, 0); err != nil {
				return nil, fmt.Errorf("rasterize template %s: %w", path, err)
			}
		}
		img, err := api.NewTemplateImage(filepath.Base(path), data)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// RunOptions maps the job file's tunables onto pipeline options.
func (j *JobFile) RunOptions() api.RunOptions {
	opts := api.DefaultRunOptions()
	if j.Scale > 0 {
		opts.Scale = j.Scale
	}
	if j.JPEGQuality > 0 {
		opts.JPEGQuality = j.JPEGQuality
	}
	if j.Format != "" {
		opts.Format = j.Format
	}
	if j.Naming != "" {
		opts.Naming = j.Naming
	}
	opts.SeparatePages = j.SeparatePages
	return opts
}
