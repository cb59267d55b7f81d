// Package carousel curates the homepage carousel: an admin-ordered list of
// product images with a dense, unique display order among active entries.
package carousel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

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
	"github.com/angelmondragon/catalog-media/pkg/pagination"
	"github.com/angelmondragon/catalog-media/pkg/validate"
)

// EntryRef names an entry by id, or by the product and optional image it
// shows. A nil ImageAssetID means the product's primary image.
type EntryRef struct {
	EntryID      *uuid.UUID `json:"entry_id,omitempty"`
	ProductID    uuid.UUID  `json:"product_id" validate:"required_without=EntryID"`
	ImageAssetID *uuid.UUID `json:"image_asset_id,omitempty"`
}

// FeedItem is one slot of the public carousel feed. URL is the chosen image,
// or the product's primary image when the entry has none.
type FeedItem struct {
	EntryID      uuid.UUID  `json:"entry_id"`
	ProductID    uuid.UUID  `json:"product_id"`
	ImageAssetID *uuid.UUID `json:"image_asset_id,omitempty"`
	DisplayOrder int        `json:"display_order"`
	URL          string     `json:"url,omitempty"`
}

type Curator struct {
	db       *db.Client
	repo     *Repository
	locker   keylock.Locker
	events   outbox.Emitter
	logg     *logger.Logger
	pageSize int
	now      func() time.Time
}

type Option func(*Curator)

// WithPageSize sets how many rows List fetches per query.
func WithPageSize(n int) Option {
	return func(c *Curator) { c.pageSize = pagination.NormalizeLimit(n) }
}

func NewCurator(client *db.Client, locker keylock.Locker, events outbox.Emitter, logg *logger.Logger, opts ...Option) (*Curator, error) {
	if client == nil {
		return nil, errors.New("db client required")
	}
	if locker == nil {
		return nil, errors.New("locker required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	c := &Curator{
		db:       client,
		repo:     NewRepository(client.DB()),
		locker:   locker,
		events:   events,
		logg:     logg,
		pageSize: pagination.DefaultLimit,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Activate puts an entry into the active ordering, creating it when ref does
// not match one. With a nil order a newly active entry is appended and an
// already active one keeps its slot. A requested order pushes the contiguous
// run of active entries starting at that slot one position down.
func (c *Curator) Activate(ctx context.Context, ref EntryRef, order *int) (*models.CarouselEntry, error) {
	if err := validate.Struct(ref); err != nil {
		return nil, err
	}
	if order != nil && *order < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "display order must be at least 1").
			WithDetails(map[string]any{"display_order": *order})
	}

	var out *models.CarouselEntry
	err := c.locked(ctx, func(tx *gorm.DB) error {
		entry, err := c.resolve(tx, ref)
		if err != nil {
			return err
		}

		target, err := c.slotFor(tx, entry, order)
		if err != nil {
			return err
		}
		if entry.Active && entry.DisplayOrder == target {
			out = entry
			return nil
		}

		if entry.Active {
			if err := c.repo.Park(tx, entry.ID); err != nil {
				return fmt.Errorf("park entry: %w", err)
			}
		}
		if err := c.makeRoom(tx, target); err != nil {
			return err
		}
		at := c.now()
		if err := c.repo.Place(tx, entry.ID, target, at); err != nil {
			return fmt.Errorf("place entry: %w", err)
		}
		entry.Active = true
		entry.DisplayOrder = target
		entry.ActivatedAt = &at
		entry.DeactivatedAt = nil
		out = entry
		return c.emit(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"entry_id":      out.ID.String(),
		"display_order": out.DisplayOrder,
	}), "carousel entry active")
	return out, nil
}

// Deactivate hides an entry. The row and its last display order are kept.
func (c *Curator) Deactivate(ctx context.Context, entryID uuid.UUID) (*models.CarouselEntry, error) {
	var out *models.CarouselEntry
	err := c.locked(ctx, func(tx *gorm.DB) error {
		entry, err := c.repo.Find(tx, entryID)
		if err != nil {
			return fmt.Errorf("load entry: %w", err)
		}
		if entry == nil {
			return notFound(entryID)
		}
		out = entry
		if !entry.Active {
			return nil
		}
		at := c.now()
		if err := c.repo.Deactivate(tx, entry.ID, at); err != nil {
			return fmt.Errorf("deactivate entry: %w", err)
		}
		entry.Active = false
		entry.DeactivatedAt = &at
		return c.emit(ctx, tx, entry)
	})
	return out, err
}

// List yields active entries in display order, one keyset page at a time.
// Every range over the sequence starts from the beginning.
func (c *Curator) List(ctx context.Context) iter.Seq2[models.CarouselEntry, error] {
	return func(yield func(models.CarouselEntry, error) bool) {
		var cursor *pagination.Cursor
		for {
			rows, err := c.repo.ActivePage(ctx, cursor, c.pageSize)
			if err != nil {
				yield(models.CarouselEntry{}, fmt.Errorf("list carousel: %w", err))
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
			if len(rows) < c.pageSize {
				return
			}
			last := entryCursor(rows[len(rows)-1])
			cursor = &last
		}
	}
}

// Page returns one page of active entries and the cursor for the next one,
// empty when there is none.
func (c *Curator) Page(ctx context.Context, params pagination.Params) ([]models.CarouselEntry, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := c.repo.ActivePage(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, "", fmt.Errorf("list carousel: %w", err)
	}
	page, next := pagination.Split(rows, params.Limit, entryCursor)
	return page, next, nil
}

func entryCursor(e models.CarouselEntry) pagination.Cursor {
	return pagination.Cursor{Order: e.DisplayOrder, ID: e.ID}
}

// Feed collects the active carousel with resolved image URLs.
func (c *Curator) Feed(ctx context.Context) ([]FeedItem, error) {
	var (
		items      []FeedItem
		assetIDs   []uuid.UUID
		productIDs []uuid.UUID
	)
	for entry, err := range c.List(ctx) {
		if err != nil {
			return nil, err
		}
		items = append(items, FeedItem{
			EntryID:      entry.ID,
			ProductID:    entry.ProductID,
			ImageAssetID: entry.ImageAssetID,
			DisplayOrder: entry.DisplayOrder,
		})
		if entry.ImageAssetID != nil {
			assetIDs = append(assetIDs, *entry.ImageAssetID)
		} else {
			productIDs = append(productIDs, entry.ProductID)
		}
	}
	if len(items) == 0 {
		return items, nil
	}

	conn := c.db.DB().WithContext(ctx)
	assetURLs := map[uuid.UUID]string{}
	if len(assetIDs) > 0 {
		var assets []models.ImageAsset
		if err := conn.Select("id", "url").Where("id IN ?", assetIDs).Find(&assets).Error; err != nil {
			return nil, fmt.Errorf("load feed assets: %w", err)
		}
		for _, a := range assets {
			assetURLs[a.ID] = a.URL
		}
	}
	primaryURLs := map[uuid.UUID]string{}
	if len(productIDs) > 0 {
		var products []models.Product
		if err := conn.Select("id", "primary_image").Where("id IN ?", productIDs).Find(&products).Error; err != nil {
			return nil, fmt.Errorf("load feed products: %w", err)
		}
		for _, p := range products {
			if p.PrimaryImage != nil {
				primaryURLs[p.ID] = *p.PrimaryImage
			}
		}
	}
	for i := range items {
		if id := items[i].ImageAssetID; id != nil {
			items[i].URL = assetURLs[*id]
		} else {
			items[i].URL = primaryURLs[items[i].ProductID]
		}
	}
	return items, nil
}

func (c *Curator) resolve(tx *gorm.DB, ref EntryRef) (*models.CarouselEntry, error) {
	if ref.EntryID != nil {
		entry, err := c.repo.Find(tx, *ref.EntryID)
		if err != nil {
			return nil, fmt.Errorf("load entry: %w", err)
		}
		if entry == nil {
			return nil, notFound(*ref.EntryID)
		}
		return entry, nil
	}

	if err := checkTarget(tx, ref.ProductID, ref.ImageAssetID); err != nil {
		return nil, err
	}
	entry, err := c.repo.FindByTarget(tx, ref.ProductID, ref.ImageAssetID)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	if entry != nil {
		return entry, nil
	}
	entry = &models.CarouselEntry{ProductID: ref.ProductID, ImageAssetID: ref.ImageAssetID}
	if err := c.repo.Create(tx, entry); err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}
	return entry, nil
}

func (c *Curator) slotFor(tx *gorm.DB, entry *models.CarouselEntry, order *int) (int, error) {
	if order != nil {
		return *order, nil
	}
	if entry.Active {
		return entry.DisplayOrder, nil
	}
	highest, err := c.repo.MaxActiveOrder(tx)
	if err != nil {
		return 0, fmt.Errorf("max display order: %w", err)
	}
	return highest + 1, nil
}

// makeRoom frees slot by shifting the contiguous run of active entries that
// starts there. Shifts go bottom-up so no two active entries share a slot.
func (c *Curator) makeRoom(tx *gorm.DB, slot int) error {
	orders, err := c.repo.ActiveOrdersFrom(tx, slot)
	if err != nil {
		return fmt.Errorf("load display orders: %w", err)
	}
	run := 0
	for run < len(orders) && orders[run] == slot+run {
		run++
	}
	for i := run - 1; i >= 0; i-- {
		if err := c.repo.ShiftOrder(tx, orders[i]); err != nil {
			return fmt.Errorf("shift display order %d: %w", orders[i], err)
		}
	}
	return nil
}

func (c *Curator) locked(ctx context.Context, fn func(tx *gorm.DB) error) error {
	unlock, err := c.locker.Acquire(ctx, keylock.CarouselKey)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", keylock.CarouselKey, err)
	}
	defer unlock()

	return c.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := db.AdvisoryXactLock(tx, keylock.CarouselKey); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (c *Curator) emit(ctx context.Context, tx *gorm.DB, entry *models.CarouselEntry) error {
	if c.events == nil {
		return nil
	}
	return c.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCarouselEntryChanged,
		AggregateType: enums.AggregateCarousel,
		AggregateID:   entry.ID,
		Data: payloads.CarouselEntryChangedEvent{
			EntryID:      entry.ID,
			ProductID:    entry.ProductID,
			ImageAssetID: entry.ImageAssetID,
			Active:       entry.Active,
			DisplayOrder: entry.DisplayOrder,
		},
	})
}

func checkTarget(tx *gorm.DB, productID uuid.UUID, imageAssetID *uuid.UUID) error {
	var count int64
	if err := tx.Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	if imageAssetID == nil {
		return nil
	}
	if err := tx.Model(&models.ImageAsset{}).
		Where("id = ? AND product_id = ?", *imageAssetID, productID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("check image asset: %w", err)
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "image asset not found on product").
			WithDetails(map[string]any{"product_id": productID.String(), "image_asset_id": imageAssetID.String()})
	}
	return nil
}

func notFound(entryID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "carousel entry not found").
		WithDetails(map[string]any{"entry_id": entryID.String()})
}
