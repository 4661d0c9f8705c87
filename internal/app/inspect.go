package app

import (
	"fmt"
	"io"

	"github.com/mmrzaf/etlflow/internal/detect"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/profile"
	"github.com/mmrzaf/etlflow/internal/readers"
	"github.com/mmrzaf/etlflow/internal/sanitize"
)

// Inspection is what a source file looks like before any mapping is applied.
type Inspection struct {
	Path      string                     `json:"path"`
	Format    domain.DetectedFormat      `json:"format"`
	Report    *domain.SanitizationReport `json:"sanitization,omitempty"`
	Schema    *domain.SourceSchema       `json:"schema,omitempty"`
	Sanitized string                     `json:"-"`

	src readers.Source
}

func spreadsheetPath(src readers.Source) bool {
	switch src.Extension() {
	case "xlsx", "xlsm", "xls", "ods":
		return true
	}
	return false
}

// Inspect sanitizes (unless san is nil or disabled) and detects the format of path.
// Override fields win over detected ones.
func Inspect(path string, san *domain.SanitizerConfig, override *domain.FormatConfig) (*Inspection, error) {
	src := readers.FileSource(path)
	in := &Inspection{Path: path, src: src}

	if san != nil && san.Enabled && !spreadsheetPath(src) {
		rc, err := src.Open()
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		clean, report := sanitize.New(*san).Sanitize(string(raw))
		in.Report = &report
		in.Sanitized = clean
		in.src = readers.BytesSource(path, []byte(clean))
	}

	detected, err := detect.NewDetector().Detect(in.src)
	if err != nil {
		return nil, fmt.Errorf("detect format: %w", err)
	}
	in.Format = detected.Merge(override)
	return in, nil
}

// Profile samples up to limit rows of the inspected source.
func (in *Inspection) Profile(override *domain.FormatConfig, limit int) (*domain.SourceSchema, error) {
	r, err := readers.Open(in.Format, in.src, readers.OptionsFrom(override))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	schema, err := profile.Profile(r, limit)
	if err != nil {
		return nil, err
	}
	in.Schema = schema
	return schema, nil
}
