// Package occasions maintains the product to occasion links. The links are
// bare pairs; occasions themselves live in the catalog.
package occasions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/outbox/payloads"
)

// Change reports what a write actually added and removed.
type Change struct {
	Added   []uuid.UUID
	Removed []uuid.UUID
}

func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

type Service struct {
	db     *db.Client
	repo   *Repository
	events outbox.Emitter
	logg   *logger.Logger
}

func NewService(client *db.Client, events outbox.Emitter, logg *logger.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("db client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{db: client, repo: NewRepository(client.DB()), events: events, logg: logg}, nil
}

// Replace makes the product's occasion set exactly occasionIDs.
func (s *Service) Replace(ctx context.Context, productID uuid.UUID, occasionIDs []uuid.UUID) (Change, error) {
	return s.apply(ctx, productID, func(current map[uuid.UUID]struct{}) Change {
		next := dedupe(occasionIDs)
		return Change{Added: sorted(difference(next, current)), Removed: sorted(difference(current, next))}
	})
}

// Link adds occasionIDs, leaving existing links alone.
func (s *Service) Link(ctx context.Context, productID uuid.UUID, occasionIDs ...uuid.UUID) (Change, error) {
	return s.apply(ctx, productID, func(current map[uuid.UUID]struct{}) Change {
		return Change{Added: sorted(difference(dedupe(occasionIDs), current))}
	})
}

// Unlink removes occasionIDs; ids that are not linked are ignored.
func (s *Service) Unlink(ctx context.Context, productID uuid.UUID, occasionIDs ...uuid.UUID) (Change, error) {
	return s.apply(ctx, productID, func(current map[uuid.UUID]struct{}) Change {
		return Change{Removed: sorted(intersect(dedupe(occasionIDs), current))}
	})
}

// List returns the product's occasion ids in ascending order.
func (s *Service) List(ctx context.Context, productID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.repo.OccasionIDs(ctx, nil, productID)
	if err != nil {
		return nil, fmt.Errorf("list occasions: %w", err)
	}
	return ids, nil
}

// ProductsFor returns the products linked to occasionID in ascending order.
func (s *Service) ProductsFor(ctx context.Context, occasionID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.repo.ProductIDs(ctx, occasionID)
	if err != nil {
		return nil, fmt.Errorf("list products for occasion: %w", err)
	}
	return ids, nil
}

func (s *Service) apply(ctx context.Context, productID uuid.UUID, plan func(current map[uuid.UUID]struct{}) Change) (Change, error) {
	var change Change
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var product models.Product
		err := db.ForUpdate(tx).Select("id").Where("id = ?", productID).Take(&product).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": productID.String()})
		}
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}

		current, err := s.repo.OccasionIDs(ctx, tx, productID)
		if err != nil {
			return fmt.Errorf("load occasions: %w", err)
		}
		change = plan(dedupe(current))
		if change.Empty() {
			return nil
		}
		if err := s.repo.Insert(tx, productID, change.Added); err != nil {
			return fmt.Errorf("insert occasion links: %w", err)
		}
		if err := s.repo.Delete(tx, productID, change.Removed); err != nil {
			return fmt.Errorf("delete occasion links: %w", err)
		}
		if s.events == nil {
			return nil
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOccasionsChanged,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Data: payloads.ProductOccasionsChangedEvent{
				ProductID: productID,
				Added:     change.Added,
				Removed:   change.Removed,
			},
		})
	})
	if err != nil {
		return Change{}, err
	}
	if !change.Empty() {
		s.logg.Info(s.logg.WithFields(s.logg.WithProductID(ctx, productID.String()), map[string]any{
			"added":   len(change.Added),
			"removed": len(change.Removed),
		}), "occasion links updated")
	}
	return change, nil
}

func dedupe(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{})
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func difference(a, b map[uuid.UUID]struct{}) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	for id := range a {
		if _, ok := b[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersect(a, b map[uuid.UUID]struct{}) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func sorted(set map[uuid.UUID]struct{}) []uuid.UUID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}
