package imaging

import (
	"fmt"

	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/enums"
)

// Format is the encoding a variant is written in.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// MimeType returns the content type stored alongside encoded variants.
func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// Extension is used in object keys.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	default:
		return ".jpg"
	}
}

// Policy describes how one size class is rendered: fit inside
// MaxWidth x MaxHeight keeping aspect ratio, never upscale.
type Policy struct {
	MaxWidth  int
	MaxHeight int
	Format    Format
	Quality   int
}

// PolicyTable holds exactly one policy per size class.
type PolicyTable map[enums.SizeClass]Policy

func DefaultPolicies() PolicyTable {
	return PolicyTable{
		enums.SizeClassThumbnail: {MaxWidth: 200, MaxHeight: 200, Format: FormatJPEG, Quality: 80},
		enums.SizeClassMedium:    {MaxWidth: 800, MaxHeight: 800, Format: FormatJPEG, Quality: 85},
		enums.SizeClassFull:      {MaxWidth: 2048, MaxHeight: 2048, Format: FormatJPEG, Quality: 90},
	}
}

// PoliciesFromConfig builds square bounding boxes from the configured edges.
func PoliciesFromConfig(cfg config.ImagingConfig) PolicyTable {
	return PolicyTable{
		enums.SizeClassThumbnail: {MaxWidth: cfg.ThumbnailMaxEdge, MaxHeight: cfg.ThumbnailMaxEdge, Format: FormatJPEG, Quality: cfg.ThumbnailQuality},
		enums.SizeClassMedium:    {MaxWidth: cfg.MediumMaxEdge, MaxHeight: cfg.MediumMaxEdge, Format: FormatJPEG, Quality: cfg.MediumQuality},
		enums.SizeClassFull:      {MaxWidth: cfg.FullMaxEdge, MaxHeight: cfg.FullMaxEdge, Format: FormatJPEG, Quality: cfg.FullQuality},
	}
}

// Validate rejects tables that miss a size class or carry unusable values.
func (t PolicyTable) Validate() error {
	if len(t) != len(enums.SizeClasses) {
		return fmt.Errorf("policy table has %d entries, want %d", len(t), len(enums.SizeClasses))
	}
	for _, sc := range enums.SizeClasses {
		p, ok := t[sc]
		if !ok {
			return fmt.Errorf("missing policy for size class %s", sc)
		}
		if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
			return fmt.Errorf("size class %s: bounds must be positive", sc)
		}
		switch p.Format {
		case FormatJPEG:
			if p.Quality < 1 || p.Quality > 100 {
				return fmt.Errorf("size class %s: jpeg quality %d out of range", sc, p.Quality)
			}
		case FormatPNG:
		default:
			return fmt.Errorf("size class %s: unknown format %q", sc, p.Format)
		}
	}
	return nil
}

// fit returns the target dimensions for a w x h source.
func (p Policy) fit(w, h int) (int, int) {
	if w <= p.MaxWidth && h <= p.MaxHeight {
		return w, h
	}
	// Compare w/MaxWidth against h/MaxHeight in integers to pick the binding edge.
	if w*p.MaxHeight >= h*p.MaxWidth {
		nh := (h*p.MaxWidth + w/2) / w
		return p.MaxWidth, max(nh, 1)
	}
	nw := (w*p.MaxHeight + h/2) / h
	return max(nw, 1), p.MaxHeight
}
