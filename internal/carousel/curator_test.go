package carousel

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/dbtest"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/pagination"
)

func newCurator(t *testing.T, opts ...Option) (*Curator, *dbpkg.Client, *outbox.Repository) {
	t.Helper()
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	c, err := NewCurator(client, keylock.NewLocal(), outbox.NewService(repo, nil, "test"), nil, opts...)
	require.NoError(t, err)
	return c, client, repo
}

func intp(v int) *int { return &v }

// order returns active product names in display order.
func order(t *testing.T, c *Curator, names map[uuid.UUID]string) []string {
	t.Helper()
	var out []string
	for entry, err := range c.List(context.Background()) {
		require.NoError(t, err)
		out = append(out, names[entry.ProductID])
	}
	return out
}

func seed(t *testing.T, client *dbpkg.Client, n int) ([]*models.Product, map[uuid.UUID]string) {
	t.Helper()
	names := map[uuid.UUID]string{}
	var products []*models.Product
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		p := dbtest.SeedProduct(t, client, name)
		names[p.ID] = name
		products = append(products, p)
	}
	return products, names
}

func TestActivateAppendsWithoutOrder(t *testing.T) {
	c, client, _ := newCurator(t)
	ctx := context.Background()
	products, names := seed(t, client, 3)

	for i, p := range products {
		entry, err := c.Activate(ctx, EntryRef{ProductID: p.ID}, nil)
		require.NoError(t, err)
		assert.Equal(t, i+1, entry.DisplayOrder)
		assert.True(t, entry.Active)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order(t, c, names))

	again, err := c.Activate(ctx, EntryRef{ProductID: products[0].ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, again.DisplayOrder, "active entry keeps its slot")
}

func TestReactivatedEntryGoesToTheEnd(t *testing.T) {
	c, client, _ := newCurator(t)
	ctx := context.Background()
	products, names := seed(t, client, 3)

	var first *models.CarouselEntry
	for _, p := range products {
		entry, err := c.Activate(ctx, EntryRef{ProductID: p.ID}, nil)
		require.NoError(t, err)
		if first == nil {
			first = entry
		}
	}

	off, err := c.Deactivate(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)
	assert.NotNil(t, off.DeactivatedAt)
	assert.Equal(t, 1, off.DisplayOrder, "deactivation keeps the last order")
	assert.Equal(t, []string{"b", "c"}, order(t, c, names))

	back, err := c.Activate(ctx, EntryRef{EntryID: &first.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, back.DisplayOrder)
	assert.Nil(t, back.DeactivatedAt)
	assert.Equal(t, []string{"b", "c", "a"}, order(t, c, names))

	var count int64
	require.NoError(t, client.DB().Model(&models.CarouselEntry{}).Count(&count).Error)
	assert.EqualValues(t, 3, count, "reactivation reuses the row")
}

func TestActivateAtOrderShiftsContiguousRun(t *testing.T) {
	c, client, _ := newCurator(t)
	ctx := context.Background()
	products, names := seed(t, client, 5)

	_, err := c.Activate(ctx, EntryRef{ProductID: products[0].ID}, intp(1))
	require.NoError(t, err)
	_, err = c.Activate(ctx, EntryRef{ProductID: products[1].ID}, intp(2))
	require.NoError(t, err)
	_, err = c.Activate(ctx, EntryRef{ProductID: products[2].ID}, intp(5))
	require.NoError(t, err)

	inserted, err := c.Activate(ctx, EntryRef{ProductID: products[3].ID}, intp(1))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted.DisplayOrder)
	assert.Equal(t, []string{"d", "a", "b", "c"}, order(t, c, names))

	orders := map[string]int{}
	for entry, err := range c.List(ctx) {
		require.NoError(t, err)
		orders[names[entry.ProductID]] = entry.DisplayOrder
	}
	assert.Equal(t, map[string]int{"d": 1, "a": 2, "b": 3, "c": 5}, orders, "entry after the gap stays put")

	moved, err := c.Activate(ctx, EntryRef{ProductID: products[2].ID}, intp(2))
	require.NoError(t, err)
	assert.Equal(t, 2, moved.DisplayOrder)
	assert.Equal(t, []string{"d", "c", "a", "b"}, order(t, c, names))
}

func TestActivateValidation(t *testing.T) {
	c, client, _ := newCurator(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, client, "lamp")
	other := dbtest.SeedProduct(t, client, "chair")
	foreign := dbtest.SeedImage(t, client, other.ID, strings.Repeat("e", 64), 1)

	_, err := c.Activate(ctx, EntryRef{}, nil)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = c.Activate(ctx, EntryRef{ProductID: p.ID}, intp(0))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = c.Activate(ctx, EntryRef{ProductID: uuid.New()}, nil)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = c.Activate(ctx, EntryRef{ProductID: p.ID, ImageAssetID: &foreign[1].ID}, nil)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)

	missing := uuid.New()
	_, err = c.Deactivate(ctx, missing)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestListPagesAndRestarts(t *testing.T) {
	c, client, _ := newCurator(t, WithPageSize(2))
	ctx := context.Background()
	products, names := seed(t, client, 5)
	for _, p := range products {
		_, err := c.Activate(ctx, EntryRef{ProductID: p.ID}, nil)
		require.NoError(t, err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, want, order(t, c, names))
	assert.Equal(t, want, order(t, c, names), "a second range starts over")

	seen := 0
	for range c.List(ctx) {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)

	page, next, err := c.Page(ctx, pagination.Params{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.NotEmpty(t, next)
	rest, next, err := c.Page(ctx, pagination.Params{Limit: 3, Cursor: next})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Empty(t, next)
}

func TestFeedResolvesURLs(t *testing.T) {
	c, client, _ := newCurator(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, client, "lamp")
	img := dbtest.SeedImage(t, client, p.ID, strings.Repeat("f", 64), 1)
	url := "https://media.test/primary.jpg"
	require.NoError(t, client.DB().Model(&models.Product{}).Where("id = ?", p.ID).Update("primary_image", url).Error)

	_, err := c.Activate(ctx, EntryRef{ProductID: p.ID}, nil)
	require.NoError(t, err)
	_, err = c.Activate(ctx, EntryRef{ProductID: p.ID, ImageAssetID: &img[2].ID}, nil)
	require.NoError(t, err)

	feed, err := c.Feed(ctx)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, url, feed[0].URL)
	assert.Equal(t, img[2].URL, feed[1].URL)
	assert.Equal(t, 2, feed[1].DisplayOrder)
}

func TestCarouselChangesAreEmitted(t *testing.T) {
	c, client, events := newCurator(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, client, "lamp")

	entry, err := c.Activate(ctx, EntryRef{ProductID: p.ID}, nil)
	require.NoError(t, err)
	_, err = c.Deactivate(ctx, entry.ID)
	require.NoError(t, err)
	_, err = c.Deactivate(ctx, entry.ID)
	require.NoError(t, err)

	rows, err := events.ListByAggregate(ctx, enums.AggregateCarousel, entry.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
