package imagestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/outbox/payloads"
)

// Removal reports what a delete took away.
type Removal struct {
	ProductID   uuid.UUID
	ContentHash string
	AssetIDs    []uuid.UUID
	// Orphans are blobs that lost their last reference.
	Orphans []models.ImageBlob
	// Purged counts orphans whose object and row are already gone. The rest
	// stay delete_requested for the blob GC.
	Purged int
}

// Delete removes one asset row. Its blob is purged only when no other asset
// references it.
func (s *Store) Delete(ctx context.Context, assetID uuid.UUID) (*Removal, error) {
	asset, err := s.repo.FindAsset(ctx, assetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image asset not found").
			WithDetails(map[string]any{"asset_id": assetID.String()})
	}
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", assetID, err)
	}

	pick := func(tx *gorm.DB) ([]models.ImageAsset, error) {
		var row models.ImageAsset
		err := tx.First(&row, "id = ? AND product_id = ?", assetID, asset.ProductID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image asset not found").
				WithDetails(map[string]any{"asset_id": assetID.String()})
		}
		return []models.ImageAsset{row}, err
	}
	return s.remove(ctx, asset.ProductID, pick, s.afterImageRemoval)
}

// DeleteImage removes every size class of one logical image from a product.
func (s *Store) DeleteImage(ctx context.Context, productID uuid.UUID, contentHash imaging.ContentHash) (*Removal, error) {
	pick := func(tx *gorm.DB) ([]models.ImageAsset, error) {
		rows, err := s.repo.AssetsForHash(ctx, tx, productID, contentHash.String())
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not bound to product").
				WithDetails(map[string]any{"product_id": productID.String(), "content_hash": contentHash.String()})
		}
		return rows, nil
	}
	return s.remove(ctx, productID, pick, s.afterImageRemoval)
}

// DeleteProduct removes the product row with all its assets. Occasion links
// and carousel entries go with it through the foreign keys. Blobs that other
// products still reference survive.
func (s *Store) DeleteProduct(ctx context.Context, productID uuid.UUID) (*Removal, error) {
	pick := func(tx *gorm.DB) ([]models.ImageAsset, error) {
		if err := db.ForUpdate(tx).Select("id").First(&models.Product{}, "id = ?", productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]any{"product_id": productID.String()})
			}
			return nil, err
		}
		return s.repo.AssetsForProduct(ctx, tx, productID)
	}
	after := func(ctx context.Context, tx *gorm.DB, r *Removal) error {
		if err := tx.Where("product_id = ?", productID).Delete(&models.CarouselEntry{}).Error; err != nil {
			return fmt.Errorf("delete carousel entries: %w", err)
		}
		if err := tx.Where("product_id = ?", productID).Delete(&models.ProductOccasionLink{}).Error; err != nil {
			return fmt.Errorf("delete occasion links: %w", err)
		}
		if err := tx.Where("id = ?", productID).Delete(&models.Product{}).Error; err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductImagesPurged,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Data: payloads.ProductImagesPurgedEvent{
				ProductID:     productID,
				AssetCount:    len(r.AssetIDs),
				OrphanBlobIDs: blobIDs(r.Orphans),
			},
		})
	}
	return s.remove(ctx, productID, pick, after)
}

func (s *Store) afterImageRemoval(ctx context.Context, tx *gorm.DB, r *Removal) error {
	if err := s.keeper.ReconcileTx(ctx, tx, r.ProductID); err != nil {
		return fmt.Errorf("reconcile primary: %w", err)
	}
	return s.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventImageDeleted,
		AggregateType: enums.AggregateProduct,
		AggregateID:   r.ProductID,
		Data: payloads.ImageDeletedEvent{
			ProductID:     r.ProductID,
			ContentHash:   r.ContentHash,
			AssetIDs:      r.AssetIDs,
			OrphanBlobIDs: blobIDs(r.Orphans),
		},
	})
}

type pickFunc func(tx *gorm.DB) ([]models.ImageAsset, error)

type afterFunc func(ctx context.Context, tx *gorm.DB, r *Removal) error

// remove deletes the picked assets and retires newly orphaned blobs in one
// transaction under the product lock, then purges the orphans.
func (s *Store) remove(ctx context.Context, productID uuid.UUID, pick pickFunc, after afterFunc) (*Removal, error) {
	productKey := keylock.ProductKey(productID)
	unlock, err := s.locker.Acquire(ctx, productKey)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", productKey, err)
	}
	defer unlock()

	removal := &Removal{ProductID: productID}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := db.AdvisoryXactLock(tx, productKey); err != nil {
			return err
		}
		assets, err := pick(tx)
		if err != nil {
			return err
		}
		seen := make(map[uuid.UUID]struct{}, len(assets))
		var referenced []uuid.UUID
		for _, a := range assets {
			removal.AssetIDs = append(removal.AssetIDs, a.ID)
			if removal.ContentHash == "" {
				removal.ContentHash = a.ContentHash
			}
			if _, ok := seen[a.BlobID]; !ok {
				seen[a.BlobID] = struct{}{}
				referenced = append(referenced, a.BlobID)
			}
		}
		if err := s.repo.DeleteAssets(tx, removal.AssetIDs); err != nil {
			return fmt.Errorf("delete assets: %w", err)
		}
		orphans, err := s.repo.RetireOrphans(tx, referenced)
		if err != nil {
			return fmt.Errorf("retire orphans: %w", err)
		}
		removal.Orphans = orphans
		return after(ctx, tx, removal)
	})
	if err != nil {
		return nil, err
	}

	purgeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deleteTimeout)
	defer cancel()
	purged, perr := s.Purge(purgeCtx, removal.Orphans)
	removal.Purged = purged
	if perr != nil {
		logCtx := s.logg.WithProductID(ctx, productID.String())
		s.logg.Error(logCtx, "orphan purge incomplete, blob gc will retry", perr)
	}
	return removal, nil
}

// Purge deletes retired blobs from the backend and then from the index.
// Blobs that regained a reference are restored instead.
func (s *Store) Purge(ctx context.Context, blobs []models.ImageBlob) (int, error) {
	var (
		errs   error
		purged int
	)
	for _, b := range blobs {
		referenced, err := s.repo.Referenced(ctx, b.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("check references of %s: %w", b.ID, err))
			continue
		}
		if referenced {
			if err := s.repo.Restore(ctx, b.ID); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("restore %s: %w", b.ID, err))
			}
			continue
		}
		if err := s.backend.Delete(ctx, b.ObjectKey); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := s.repo.DeleteRetired(ctx, b.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete blob row %s: %w", b.ID, err))
			continue
		}
		purged++
	}
	return purged, errs
}

func (s *Store) emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.events == nil {
		return nil
	}
	return s.events.Emit(ctx, tx, event)
}
