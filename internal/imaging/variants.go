package imaging

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
)

const defaultConcurrency = 3

// decodableTypes are the sniffed types with a registered decoder.
var decodableTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

func decodable(m *mimetype.MIME) bool {
	for _, t := range decodableTypes {
		if m.Is(t) {
			return true
		}
	}
	return false
}

// Variant is one rendered size class.
type Variant struct {
	SizeClass enums.SizeClass
	Data      []byte
	MimeType  string
	Extension string
	Width     int
	Height    int
	// Digest is the hex SHA-256 of Data.
	Digest string
}

// VariantSet holds one variant per size class.
type VariantSet map[enums.SizeClass]Variant

// Ordered returns the variants in enums.SizeClasses order.
func (s VariantSet) Ordered() []Variant {
	out := make([]Variant, 0, len(s))
	for _, sc := range enums.SizeClasses {
		if v, ok := s[sc]; ok {
			out = append(out, v)
		}
	}
	return out
}

// TotalBytes sums the encoded sizes.
func (s VariantSet) TotalBytes() int64 {
	var total int64
	for _, v := range s {
		total += int64(len(v.Data))
	}
	return total
}

type Option func(*Generator)

// WithConcurrency caps how many size classes render at once.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithMaxBytes rejects sources above n bytes before decoding.
func WithMaxBytes(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxBytes = n
		}
	}
}

// Generator renders the configured size classes from a source image. It keeps
// no mutable state, so one instance can serve any number of goroutines.
type Generator struct {
	policies    PolicyTable
	concurrency int
	maxBytes    int
}

func NewGenerator(policies PolicyTable, opts ...Option) (*Generator, error) {
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("invalid variant policy: %w", err)
	}
	g := &Generator{policies: policies, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Policy returns the rendering policy of a size class.
func (g *Generator) Policy(sc enums.SizeClass) (Policy, bool) {
	p, ok := g.policies[sc]
	return p, ok
}

// Generate decodes src and renders every size class. Either the full set is
// returned or an error; partial sets never escape.
func (g *Generator) Generate(ctx context.Context, src []byte) (VariantSet, error) {
	return g.GenerateClasses(ctx, src, enums.SizeClasses)
}

// GenerateClasses renders only the requested size classes.
func (g *Generator) GenerateClasses(ctx context.Context, src []byte, classes []enums.SizeClass) (VariantSet, error) {
	img, err := g.decode(src)
	if err != nil {
		return nil, err
	}
	return g.Render(ctx, img, classes)
}

func (g *Generator) decode(src []byte) (image.Image, error) {
	if len(src) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "upload is empty")
	}
	if g.maxBytes > 0 && len(src) > g.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, fmt.Sprintf("upload is %d bytes, limit is %d", len(src), g.maxBytes))
	}
	detected := mimetype.Detect(src)
	if !decodable(detected) {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedFormat, fmt.Sprintf("cannot decode %s", detected.String())).
			WithDetails(map[string]any{"detected_mime": detected.String()})
	}
	if err := checkDimensions(src, detected); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidInput, err, "image data is corrupt").
			WithDetails(map[string]any{"detected_mime": detected.String()})
	}
	return img, nil
}

// Render resizes and encodes an already decoded image.
func (g *Generator) Render(ctx context.Context, img image.Image, classes []enums.SizeClass) (VariantSet, error) {
	if img == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTransform, "no source image")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeTransform, fmt.Sprintf("degenerate source %dx%d", bounds.Dx(), bounds.Dy()))
	}

	for _, sc := range classes {
		if _, ok := g.policies[sc]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeTransform, fmt.Sprintf("no policy for size class %q", sc))
		}
	}

	results := make([]Variant, len(classes))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for i, sc := range classes {
		policy := g.policies[sc]
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := renderOne(img, sc, policy)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	set := make(VariantSet, len(results))
	for _, v := range results {
		set[v.SizeClass] = v
	}
	return set, nil
}

func renderOne(src image.Image, sc enums.SizeClass, policy Policy) (Variant, error) {
	sb := src.Bounds()
	w, h := policy.fit(sb.Dx(), sb.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if policy.Format == FormatJPEG {
		// JPEG has no alpha channel; flatten onto white.
		draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	}
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}

	var buf bytes.Buffer
	var err error
	switch policy.Format {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, dst)
	default:
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: policy.Quality})
	}
	if err != nil {
		return Variant{}, pkgerrors.Wrap(pkgerrors.CodeTransform, err, fmt.Sprintf("encode %s", sc))
	}

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	return Variant{
		SizeClass: sc,
		Data:      data,
		MimeType:  policy.Format.MimeType(),
		Extension: policy.Format.Extension(),
		Width:     w,
		Height:    h,
		Digest:    hex.EncodeToString(sum[:]),
	}, nil
}
