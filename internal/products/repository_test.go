package product

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catalog-media/pkg/db/dbtest"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
)

func TestServiceCreateAndGet(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewService(NewRepository(client.DB()))
	require.NoError(t, err)
	ctx := context.Background()

	inactive := false
	p, err := svc.Create(ctx, CreateProductInput{Name: "  Lamp ", IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.False(t, p.IsActive)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.False(t, got.IsActive, "inactive flag must survive the insert")

	active, err := svc.Create(ctx, CreateProductInput{Name: "Desk"})
	require.NoError(t, err)
	got, err = svc.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	_, err = svc.Get(ctx, uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = svc.Create(ctx, CreateProductInput{Name: "   "})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestMissingPrimaryAndStaleCache(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	healthy := dbtest.SeedProduct(t, client, "healthy")
	img := dbtest.SeedImage(t, client, healthy.ID, strings.Repeat("a", 64), 1)
	require.NoError(t, client.DB().Model(&models.ImageAsset{}).Where("id = ?", img[1].ID).Update("is_primary", true).Error)
	require.NoError(t, client.DB().Model(&models.Product{}).Where("id = ?", healthy.ID).Update("primary_image", img[1].URL).Error)

	orphaned := dbtest.SeedProduct(t, client, "no primary")
	dbtest.SeedImage(t, client, orphaned.ID, strings.Repeat("b", 64), 1)

	stale := dbtest.SeedProduct(t, client, "stale")
	require.NoError(t, client.DB().Model(&models.Product{}).Where("id = ?", stale.ID).Update("primary_image", "https://gone").Error)

	dbtest.SeedProduct(t, client, "empty")

	missing, err := repo.MissingPrimary(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orphaned.ID}, missing)

	staleIDs, err := repo.StaleCache(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, staleIDs)
}
