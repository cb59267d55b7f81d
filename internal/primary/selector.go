// Package primary keeps exactly one primary image asset per product that has
// images. is_primary on image_assets is authoritative; products.primary_image
// is a cache written through on every change.
package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/outbox/payloads"
)

type Selector struct {
	db     *db.Client
	locker keylock.Locker
	events outbox.Emitter
	logg   *logger.Logger
}

// NewSelector wires the selector. events may be nil when no outbox is used.
func NewSelector(client *db.Client, locker keylock.Locker, events outbox.Emitter, logg *logger.Logger) (*Selector, error) {
	if client == nil {
		return nil, errors.New("db client required")
	}
	if locker == nil {
		return nil, errors.New("locker required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Selector{db: client, locker: locker, events: events, logg: logg}, nil
}

// SetPrimary makes assetID the product's only primary asset.
func (s *Selector) SetPrimary(ctx context.Context, productID, assetID uuid.UUID) (*models.ImageAsset, error) {
	var out *models.ImageAsset
	err := s.locked(ctx, productID, func(tx *gorm.DB) error {
		asset, err := s.SetPrimaryTx(ctx, tx, productID, assetID)
		out = asset
		return err
	})
	return out, err
}

// EnsurePrimary promotes a primary when the product has images but none is
// flagged. It fails with NO_IMAGES when the product has no images at all.
func (s *Selector) EnsurePrimary(ctx context.Context, productID uuid.UUID) (*models.ImageAsset, error) {
	var out *models.ImageAsset
	err := s.locked(ctx, productID, func(tx *gorm.DB) error {
		if err := lockProduct(tx, productID); err != nil {
			return err
		}
		asset, err := s.ensure(ctx, tx, productID)
		if err != nil {
			return err
		}
		if asset == nil {
			return pkgerrors.New(pkgerrors.CodeNoImages, "product has no images").
				WithDetails(map[string]any{"product_id": productID.String()})
		}
		out = asset
		return nil
	})
	return out, err
}

// Reconcile is ReconcileTx under the product lock in its own transaction.
func (s *Selector) Reconcile(ctx context.Context, productID uuid.UUID) error {
	return s.locked(ctx, productID, func(tx *gorm.DB) error {
		return s.ReconcileTx(ctx, tx, productID)
	})
}

// SetPrimaryTx is SetPrimary for callers that already hold the product lock
// and own the transaction.
func (s *Selector) SetPrimaryTx(ctx context.Context, tx *gorm.DB, productID, assetID uuid.UUID) (*models.ImageAsset, error) {
	if err := lockProduct(tx, productID); err != nil {
		return nil, err
	}

	var target models.ImageAsset
	err := tx.Where("id = ? AND product_id = ?", assetID, productID).Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image asset not found on product").
			WithDetails(map[string]any{"product_id": productID.String(), "asset_id": assetID.String()})
	}
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}

	current, err := currentPrimary(tx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.promote(ctx, tx, productID, current, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// EnsurePrimaryTx is EnsurePrimary inside the caller's transaction. It
// returns nil when the product has no images.
func (s *Selector) EnsurePrimaryTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.ImageAsset, error) {
	if err := lockProduct(tx, productID); err != nil {
		return nil, err
	}
	return s.ensure(ctx, tx, productID)
}

// ReconcileTx restores the invariant after assets were removed: it promotes
// a replacement if needed, or clears the cached URL when nothing is left.
func (s *Selector) ReconcileTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	if err := lockProduct(tx, productID); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	asset, err := s.ensure(ctx, tx, productID)
	if err != nil {
		return err
	}
	if asset != nil {
		return nil
	}

	var product models.Product
	if err := tx.Select("id", "primary_image").Where("id = ?", productID).Take(&product).Error; err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product.PrimaryImage == nil {
		return nil
	}
	if err := writeCache(tx, productID, nil); err != nil {
		return err
	}
	return s.emitChanged(ctx, tx, productID, nil, nil)
}

// ensure returns the primary after making sure one exists, or nil when the
// product has no assets.
func (s *Selector) ensure(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.ImageAsset, error) {
	current, err := currentPrimary(tx, productID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if err := refreshCache(tx, productID, current.URL); err != nil {
			return nil, err
		}
		return current, nil
	}

	var assets []models.ImageAsset
	if err := tx.Where("product_id = ?", productID).Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	candidate := Pick(assets)
	if candidate == nil {
		return nil, nil
	}
	if err := s.promote(ctx, tx, productID, nil, candidate); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithProductID(ctx, productID.String()), "promoted replacement primary image")
	return candidate, nil
}

func (s *Selector) promote(ctx context.Context, tx *gorm.DB, productID uuid.UUID, current, target *models.ImageAsset) error {
	if current != nil && current.ID == target.ID {
		target.IsPrimary = true
		return refreshCache(tx, productID, target.URL)
	}
	if err := tx.Model(&models.ImageAsset{}).
		Where("product_id = ? AND is_primary = ?", productID, true).
		Update("is_primary", false).Error; err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	if err := tx.Model(&models.ImageAsset{}).
		Where("id = ?", target.ID).
		Update("is_primary", true).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicateRace, err, "concurrent primary update").
				WithDetails(map[string]any{"product_id": productID.String()})
		}
		return fmt.Errorf("set primary: %w", err)
	}
	target.IsPrimary = true
	url := target.URL
	if err := writeCache(tx, productID, &url); err != nil {
		return err
	}

	var previous *uuid.UUID
	if current != nil {
		id := current.ID
		previous = &id
	}
	return s.emitChanged(ctx, tx, productID, target, previous)
}

func (s *Selector) emitChanged(ctx context.Context, tx *gorm.DB, productID uuid.UUID, target *models.ImageAsset, previous *uuid.UUID) error {
	if s.events == nil {
		return nil
	}
	data := payloads.PrimaryImageChangedEvent{ProductID: productID, PreviousAssetID: previous}
	if target != nil {
		id, url := target.ID, target.URL
		data.AssetID = &id
		data.URL = &url
		data.ContentHash = target.ContentHash
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPrimaryImageChanged,
		AggregateType: enums.AggregateProduct,
		AggregateID:   productID,
		Data:          data,
	})
}

func (s *Selector) locked(ctx context.Context, productID uuid.UUID, fn func(tx *gorm.DB) error) error {
	key := keylock.ProductKey(productID)
	unlock, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer unlock()

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := db.AdvisoryXactLock(tx, key); err != nil {
			return err
		}
		return fn(tx)
	})
}

// Pick chooses which asset to promote: the lowest image index among medium
// variants, then full, then thumbnail. Ties fall back to the lowest id.
func Pick(assets []models.ImageAsset) *models.ImageAsset {
	var best *models.ImageAsset
	for i := range assets {
		a := &assets[i]
		if best == nil || better(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func better(a, b *models.ImageAsset) bool {
	ra, rb := preference(a.SizeClass), preference(b.SizeClass)
	if ra != rb {
		return ra < rb
	}
	if a.ImageIndex != b.ImageIndex {
		return a.ImageIndex < b.ImageIndex
	}
	return a.ID.String() < b.ID.String()
}

func preference(sc enums.SizeClass) int {
	for i, candidate := range enums.PrimaryPreference {
		if candidate == sc {
			return i
		}
	}
	return len(enums.PrimaryPreference)
}

func lockProduct(tx *gorm.DB, productID uuid.UUID) error {
	var product models.Product
	err := db.ForUpdate(tx).Select("id").Where("id = ?", productID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	if err != nil {
		return fmt.Errorf("lock product: %w", err)
	}
	return nil
}

func currentPrimary(tx *gorm.DB, productID uuid.UUID) (*models.ImageAsset, error) {
	var rows []models.ImageAsset
	if err := tx.Where("product_id = ? AND is_primary = ?", productID, true).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load primary: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func refreshCache(tx *gorm.DB, productID uuid.UUID, url string) error {
	return tx.Model(&models.Product{}).
		Where("id = ? AND (primary_image IS NULL OR primary_image <> ?)", productID, url).
		Update("primary_image", url).Error
}

func writeCache(tx *gorm.DB, productID uuid.UUID, url *string) error {
	if err := tx.Model(&models.Product{}).Where("id = ?", productID).Update("primary_image", url).Error; err != nil {
		return fmt.Errorf("write primary_image: %w", err)
	}
	return nil
}
