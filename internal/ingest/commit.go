package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/dedup"
	"github.com/angelmondragon/catalog-media/internal/imagestore"
	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/internal/primary"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/outbox/payloads"
)

// needVariants aborts a commit whose re-check under lock found size classes
// that were not rendered beforehand.
type needVariants struct {
	classes []enums.SizeClass
}

func (e *needVariants) Error() string {
	names := make([]string, 0, len(e.classes))
	for _, sc := range e.classes {
		names = append(names, sc.String())
	}
	return "variants not rendered: " + strings.Join(names, ",")
}

// commit re-resolves under the dedup and product locks and binds the image
// inside one upload scope.
func (s *Service) commit(ctx context.Context, in Upload, hash imaging.ContentHash, variants imaging.VariantSet) (*Result, error) {
	var res *bound
	err := s.resolver.Serialize(ctx, in.ProductID, hash, func(ctx context.Context) error {
		productKey := keylock.ProductKey(in.ProductID)
		unlock, err := s.locker.Acquire(ctx, productKey)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", productKey, err)
		}
		defer unlock()

		return s.store.WithinUpload(ctx, func(up *imagestore.Upload) error {
			if err := up.Lock(keylock.DedupKey(in.ProductID, hash.String()), productKey); err != nil {
				return err
			}
			out, err := s.bind(ctx, up, in, hash, variants)
			if err != nil {
				return err
			}
			res = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, sc := range enums.SizeClasses {
		if n, ok := res.writes[sc]; ok {
			s.metrics.AddWritten(sc.String(), n)
		}
	}
	return &res.Result, nil
}

// bound is a committed Result plus the bytes written per size class.
type bound struct {
	Result
	writes map[enums.SizeClass]int64
}

func (s *Service) bind(ctx context.Context, up *imagestore.Upload, in Upload, hash imaging.ContentHash, variants imaging.VariantSet) (*bound, error) {
	tx := up.Tx()
	decision, err := s.resolver.Resolve(ctx, tx, in.ProductID, hash)
	if err != nil {
		return nil, err
	}
	if decision.Outcome == dedup.OutcomeExisting {
		// A concurrent upload of the same bytes for this product finished
		// first; report its binding.
		res, err := s.existingTx(ctx, tx, in, hash, decision.Existing)
		if err != nil {
			return nil, err
		}
		return &bound{Result: *res}, nil
	}

	var unrendered []enums.SizeClass
	for _, sc := range decision.Missing {
		if _, ok := variants[sc]; !ok {
			unrendered = append(unrendered, sc)
		}
	}
	if len(unrendered) > 0 {
		return nil, &needVariants{classes: unrendered}
	}

	reused := make([]uuid.UUID, 0, len(decision.Blobs))
	for _, b := range decision.Blobs {
		reused = append(reused, b.ID)
	}
	claimed, err := s.store.Repository().ClaimReadyBlobs(tx, reused)
	if err != nil {
		return nil, fmt.Errorf("claim blobs: %w", err)
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateRace, "stored variant retired during upload")
	}

	toWrite := make([]imaging.Variant, 0, len(decision.Missing))
	for _, sc := range decision.Missing {
		toWrite = append(toWrite, variants[sc])
	}
	blobs := make(map[enums.SizeClass]models.ImageBlob, len(enums.SizeClasses))
	for sc, b := range decision.Blobs {
		blobs[sc] = b
	}
	res := &bound{
		Result: Result{ProductID: in.ProductID, ContentHash: hash, Outcome: decision.Outcome},
		writes: map[enums.SizeClass]int64{},
	}
	if len(toWrite) > 0 {
		written, err := up.PutAll(ctx, decision.Scope, hash, toWrite)
		if err != nil {
			return nil, err
		}
		for _, b := range written {
			blobs[b.SizeClass] = *b
			res.writes[b.SizeClass] = b.SizeBytes
			res.BytesWritten += b.SizeBytes
		}
		res.BlobsWritten = len(written)
	}

	index, err := s.store.Repository().NextImageIndex(tx, in.ProductID)
	if err != nil {
		return nil, fmt.Errorf("allocate image index: %w", err)
	}
	assets := make([]models.ImageAsset, 0, len(enums.SizeClasses))
	for _, sc := range enums.SizeClasses {
		blob := blobs[sc]
		assets = append(assets, models.ImageAsset{
			ID:          uuid.New(),
			ProductID:   in.ProductID,
			BlobID:      blob.ID,
			ContentHash: hash.String(),
			SizeClass:   sc,
			ImageIndex:  index,
			URL:         blob.URL,
		})
	}
	if err := up.Attach(assets); err != nil {
		return nil, err
	}
	res.ImageIndex = index

	current, err := s.settlePrimary(ctx, tx, in, assets)
	if err != nil {
		return nil, err
	}
	for i := range assets {
		if current != nil && assets[i].ID == current.ID {
			assets[i].IsPrimary = true
			res.IsPrimary = true
		}
	}
	res.Assets = assets

	if err := s.emitIngested(ctx, tx, &res.Result); err != nil {
		return nil, err
	}
	return res, nil
}

// settlePrimary applies the upload's primary hint, or promotes one when the
// product had none. It returns the product's primary afterwards.
func (s *Service) settlePrimary(ctx context.Context, tx *gorm.DB, in Upload, assets []models.ImageAsset) (*models.ImageAsset, error) {
	if in.IsPrimary {
		return s.primary.SetPrimaryTx(ctx, tx, in.ProductID, primary.Pick(assets).ID)
	}
	return s.primary.EnsurePrimaryTx(ctx, tx, in.ProductID)
}

func (s *Service) existingTx(ctx context.Context, tx *gorm.DB, in Upload, hash imaging.ContentHash, assets []models.ImageAsset) (*Result, error) {
	res := existingResult(in, hash, assets)
	if in.IsPrimary && !res.IsPrimary {
		if _, err := s.primary.SetPrimaryTx(ctx, tx, in.ProductID, primary.Pick(assets).ID); err != nil {
			return nil, err
		}
		res.IsPrimary = true
	}
	return res, nil
}

func existingResult(in Upload, hash imaging.ContentHash, assets []models.ImageAsset) *Result {
	res := &Result{ProductID: in.ProductID, ContentHash: hash, Outcome: dedup.OutcomeExisting, Assets: assets}
	if len(assets) > 0 {
		res.ImageIndex = assets[0].ImageIndex
	}
	for _, a := range assets {
		res.IsPrimary = res.IsPrimary || a.IsPrimary
	}
	return res
}

func (s *Service) emitIngested(ctx context.Context, tx *gorm.DB, res *Result) error {
	if s.events == nil {
		return nil
	}
	refs := make([]payloads.VariantRef, 0, len(res.Assets))
	for _, a := range res.Assets {
		refs = append(refs, payloads.VariantRef{AssetID: a.ID, SizeClass: a.SizeClass, URL: a.URL})
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventImageIngested,
		AggregateType: enums.AggregateProduct,
		AggregateID:   res.ProductID,
		Data: payloads.ImageIngestedEvent{
			ProductID:   res.ProductID,
			ContentHash: res.ContentHash.String(),
			ImageIndex:  res.ImageIndex,
			Outcome:     string(res.Outcome),
			IsPrimary:   res.IsPrimary,
			Variants:    refs,
		},
	})
}
