// Package ingest is the entry point of the image pipeline: it hashes an
// upload, resolves it against stored images, renders what is missing, and
// binds the result to the product in one transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-media/internal/dedup"
	"github.com/angelmondragon/catalog-media/internal/imagestore"
	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/internal/primary"
	product "github.com/angelmondragon/catalog-media/internal/products"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/validate"
)

const outcomeError = "error"

// Upload is one image for one product.
type Upload struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Data      []byte    `json:"-" validate:"required"`
	IsPrimary bool      `json:"is_primary"`
}

// Result describes what an ingestion bound to the product.
type Result struct {
	ProductID    uuid.UUID           `json:"product_id"`
	ContentHash  imaging.ContentHash `json:"content_hash"`
	Outcome      dedup.Outcome       `json:"outcome"`
	ImageIndex   int                 `json:"image_index"`
	IsPrimary    bool                `json:"is_primary"`
	Assets       []models.ImageAsset `json:"-"`
	BlobsWritten int                 `json:"blobs_written"`
	BytesWritten int64               `json:"bytes_written"`
}

// Descriptor is the resolved view of one stored variant.
type Descriptor struct {
	ProductID   uuid.UUID       `json:"product_id"`
	AssetID     uuid.UUID       `json:"asset_id"`
	ContentHash string          `json:"content_hash"`
	SizeClass   enums.SizeClass `json:"size_class"`
	ImageIndex  int             `json:"image_index"`
	IsPrimary   bool            `json:"is_primary"`
	URL         string          `json:"url"`
}

type Params struct {
	Store     *imagestore.Store
	Resolver  *dedup.Resolver
	Generator *imaging.Generator
	Primary   *primary.Selector
	Products  *product.Repository
	Locker    keylock.Locker
	Events    outbox.Emitter
	Metrics   *metrics.IngestMetrics
	Logger    *logger.Logger
	// MaxUploadBytes rejects larger uploads before hashing. Zero disables it.
	MaxUploadBytes int
}

type Service struct {
	store     *imagestore.Store
	resolver  *dedup.Resolver
	generator *imaging.Generator
	primary   *primary.Selector
	products  *product.Repository
	locker    keylock.Locker
	events    outbox.Emitter
	metrics   *metrics.IngestMetrics
	logg      *logger.Logger
	maxBytes  int
}

func New(p Params) (*Service, error) {
	switch {
	case p.Store == nil:
		return nil, errors.New("image store required")
	case p.Resolver == nil:
		return nil, errors.New("dedup resolver required")
	case p.Generator == nil:
		return nil, errors.New("variant generator required")
	case p.Primary == nil:
		return nil, errors.New("primary selector required")
	case p.Products == nil:
		return nil, errors.New("product repository required")
	case p.Locker == nil:
		return nil, errors.New("locker required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		store:     p.Store,
		resolver:  p.Resolver,
		generator: p.Generator,
		primary:   p.Primary,
		products:  p.Products,
		locker:    p.Locker,
		events:    p.Events,
		metrics:   p.Metrics,
		logg:      logg,
		maxBytes:  p.MaxUploadBytes,
	}, nil
}

// Ingest stores an upload for a product. Uploading bytes the product already
// carries is a no-op that returns the existing binding.
func (s *Service) Ingest(ctx context.Context, in Upload) (*Result, error) {
	start := time.Now()
	res, hash, err := s.ingest(ctx, in)
	if err != nil {
		s.metrics.Observe(outcomeError, time.Since(start))
		err = annotate(err, "ingest image", in.ProductID, hash)
		logCtx := s.logg.WithProductID(ctx, in.ProductID.String())
		if hash != "" {
			logCtx = s.logg.WithContentHash(logCtx, hash.String())
		}
		s.logg.Error(logCtx, "image ingestion failed", err)
		return nil, err
	}
	s.metrics.Observe(string(res.Outcome), time.Since(start))

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id":    res.ProductID.String(),
		"content_hash":  res.ContentHash.String(),
		"outcome":       string(res.Outcome),
		"image_index":   res.ImageIndex,
		"blobs_written": res.BlobsWritten,
	})
	s.logg.Info(logCtx, "image ingested")
	return res, nil
}

func (s *Service) ingest(ctx context.Context, in Upload) (*Result, imaging.ContentHash, error) {
	if err := validate.Struct(in); err != nil {
		if len(in.Data) == 0 && in.ProductID != uuid.Nil {
			return nil, "", pkgerrors.New(pkgerrors.CodeInvalidInput, "upload is empty")
		}
		return nil, "", err
	}
	if s.maxBytes > 0 && len(in.Data) > s.maxBytes {
		return nil, "", pkgerrors.New(pkgerrors.CodeInvalidInput, "upload exceeds size limit").
			WithDetails(map[string]any{"size_bytes": len(in.Data), "limit_bytes": s.maxBytes})
	}

	hash, err := imaging.Hash(in.Data)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.products.FindByID(ctx, nil, in.ProductID); err != nil {
		return nil, hash, err
	}

	decision, err := s.resolver.Resolve(ctx, nil, in.ProductID, hash)
	if err != nil {
		return nil, hash, err
	}
	if decision.Outcome == dedup.OutcomeExisting {
		res, err := s.existing(ctx, in, hash, decision.Existing)
		return res, hash, err
	}

	variants := imaging.VariantSet{}
	if decision.NeedsRender() {
		if variants, err = s.generator.GenerateClasses(ctx, in.Data, decision.Missing); err != nil {
			return nil, hash, err
		}
	}

	raced := false
	for {
		res, err := s.commit(ctx, in, hash, variants)
		var need *needVariants
		switch {
		case err == nil:
			return res, hash, nil
		case errors.As(err, &need):
			// Blobs we planned to reuse went away while we rendered; render
			// the difference outside the locks and try again.
			more, gerr := s.generator.GenerateClasses(ctx, in.Data, need.classes)
			if gerr != nil {
				return nil, hash, gerr
			}
			for sc, v := range more {
				variants[sc] = v
			}
		case pkgerrors.Is(err, pkgerrors.CodeDuplicateRace) && !raced:
			raced = true
			s.logg.Warn(s.logg.WithContentHash(s.logg.WithProductID(ctx, in.ProductID.String()), hash.String()),
				"concurrent upload won the race, retrying once")
		default:
			return nil, hash, err
		}
	}
}

// existing answers a re-upload from the rows already bound to the product.
func (s *Service) existing(ctx context.Context, in Upload, hash imaging.ContentHash, assets []models.ImageAsset) (*Result, error) {
	res := existingResult(in, hash, assets)
	if in.IsPrimary && !res.IsPrimary {
		if _, err := s.primary.SetPrimary(ctx, in.ProductID, primary.Pick(assets).ID); err != nil {
			return nil, err
		}
		res.IsPrimary = true
	}
	return res, nil
}

// Describe lists the product's stored variants.
func (s *Service) Describe(ctx context.Context, productID uuid.UUID) ([]Descriptor, error) {
	if _, err := s.products.FindByID(ctx, nil, productID); err != nil {
		return nil, annotate(err, "describe images", productID, "")
	}
	assets, err := s.store.Describe(ctx, productID)
	if err != nil {
		return nil, annotate(err, "describe images", productID, "")
	}
	out := make([]Descriptor, 0, len(assets))
	for _, a := range assets {
		out = append(out, Descriptor{
			ProductID:   a.ProductID,
			AssetID:     a.ID,
			ContentHash: a.ContentHash,
			SizeClass:   a.SizeClass,
			ImageIndex:  a.ImageIndex,
			IsPrimary:   a.IsPrimary,
			URL:         a.URL,
		})
	}
	return out, nil
}

// RemoveImage unbinds every size class of one image from the product.
func (s *Service) RemoveImage(ctx context.Context, productID uuid.UUID, contentHash string) (*imagestore.Removal, error) {
	hash, err := imaging.ParseContentHash(contentHash)
	if err != nil {
		return nil, annotate(err, "remove image", productID, imaging.ContentHash(contentHash))
	}
	removal, err := s.store.DeleteImage(ctx, productID, hash)
	if err != nil {
		return nil, annotate(err, "remove image", productID, hash)
	}
	s.logg.Info(s.logg.WithContentHash(s.logg.WithProductID(ctx, productID.String()), hash.String()), "image removed")
	return removal, nil
}

// DeleteProduct removes the product with its assets, occasion links, and
// carousel entries. Blobs still bound to other products survive.
func (s *Service) DeleteProduct(ctx context.Context, productID uuid.UUID) (*imagestore.Removal, error) {
	removal, err := s.store.DeleteProduct(ctx, productID)
	if err != nil {
		return nil, annotate(err, "delete product", productID, "")
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithProductID(ctx, productID.String()), map[string]any{
		"assets": len(removal.AssetIDs),
		"purged": removal.Purged,
	}), "product deleted")
	return removal, nil
}

// annotate makes sure a surfaced error names the product and, when known,
// the content hash, in its message and details.
func annotate(err error, op string, productID uuid.UUID, hash imaging.ContentHash) error {
	details := map[string]any{"product_id": productID.String()}
	msg := fmt.Sprintf("%s: product %s", op, productID)
	if hash != "" {
		details["content_hash"] = hash.String()
		msg += fmt.Sprintf(" content_hash %s", hash)
	}

	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
		switch inner := typed.Details().(type) {
		case map[string]any:
			for k, v := range inner {
				if _, ok := details[k]; !ok {
					details[k] = v
				}
			}
		case map[string]string:
			for k, v := range inner {
				if _, ok := details[k]; !ok {
					details[k] = v
				}
			}
		}
	}
	return pkgerrors.Wrap(code, err, msg).WithDetails(details)
}
