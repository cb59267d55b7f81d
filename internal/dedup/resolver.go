// Package dedup decides whether an upload needs new variants or can reuse
// stored ones.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
)

type Outcome string

const (
	// OutcomeMiss means nothing is stored for the identity in scope.
	OutcomeMiss Outcome = "miss"
	// OutcomeExisting means the product already carries the image.
	OutcomeExisting Outcome = "existing"
	// OutcomeReuse means stored blobs can be bound without new writes,
	// except for any Missing classes.
	OutcomeReuse Outcome = "reuse"
)

// Decision is the resolver's verdict for one (product, hash) pair.
type Decision struct {
	Outcome  Outcome
	Scope    string
	Existing []models.ImageAsset
	Blobs    map[enums.SizeClass]models.ImageBlob
	Missing  []enums.SizeClass
}

// NeedsRender reports whether any variant must be generated.
func (d *Decision) NeedsRender() bool {
	return d.Outcome != OutcomeExisting && len(d.Missing) > 0
}

// Index is the read side of the image store the resolver consults.
type Index interface {
	ReadyBlobs(ctx context.Context, tx *gorm.DB, scope, contentHash string) ([]models.ImageBlob, error)
	AssetsForHash(ctx context.Context, tx *gorm.DB, productID uuid.UUID, contentHash string) ([]models.ImageAsset, error)
}

type Resolver struct {
	index  Index
	scope  enums.DedupScope
	locker keylock.Locker
}

// NewResolver fixes the dedup scope for the lifetime of the resolver.
func NewResolver(index Index, scope enums.DedupScope, locker keylock.Locker) (*Resolver, error) {
	if index == nil {
		return nil, errors.New("index required")
	}
	if locker == nil {
		return nil, errors.New("locker required")
	}
	if !scope.IsValid() {
		return nil, fmt.Errorf("invalid dedup scope %q", scope)
	}
	return &Resolver{index: index, scope: scope, locker: locker}, nil
}

func (r *Resolver) Scope() enums.DedupScope {
	return r.scope
}

// ScopeKey is the blob scope an upload for productID resolves against.
func (r *Resolver) ScopeKey(productID uuid.UUID) string {
	if r.scope == enums.DedupScopeLocal {
		return productID.String()
	}
	return string(enums.DedupScopeGlobal)
}

// Resolve classifies an upload. tx may be nil for an optimistic read
// outside any transaction.
func (r *Resolver) Resolve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, hash imaging.ContentHash) (*Decision, error) {
	scope := r.ScopeKey(productID)

	existing, err := r.index.AssetsForHash(ctx, tx, productID, hash.String())
	if err != nil {
		return nil, fmt.Errorf("load product assets: %w", err)
	}
	if len(existing) > 0 {
		return &Decision{Outcome: OutcomeExisting, Scope: scope, Existing: existing}, nil
	}

	blobs, err := r.index.ReadyBlobs(ctx, tx, scope, hash.String())
	if err != nil {
		return nil, fmt.Errorf("load ready blobs: %w", err)
	}
	byClass := make(map[enums.SizeClass]models.ImageBlob, len(blobs))
	for _, b := range blobs {
		byClass[b.SizeClass] = b
	}
	var missing []enums.SizeClass
	for _, sc := range enums.SizeClasses {
		if _, ok := byClass[sc]; !ok {
			missing = append(missing, sc)
		}
	}

	outcome := OutcomeReuse
	if len(byClass) == 0 {
		outcome = OutcomeMiss
	}
	return &Decision{Outcome: outcome, Scope: scope, Blobs: byClass, Missing: missing}, nil
}

// Serialize runs fn while holding the dedup lock for (productID, hash).
func (r *Resolver) Serialize(ctx context.Context, productID uuid.UUID, hash imaging.ContentHash, fn func(ctx context.Context) error) error {
	key := keylock.DedupKey(productID, hash.String())
	unlock, err := r.locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer unlock()
	return fn(ctx)
}
