// Package dbtest opens isolated in-memory sqlite databases carrying the
// image pipeline schema.
package dbtest

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// Open returns a client on a fresh shared-cache memory database that lives
// until the test ends. The pool is pinned to one connection, so callers must
// not use the root handle while a transaction is open.
func Open(t testing.TB) *db.Client {
	t.Helper()

	name := unsafeName.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=on", name, uuid.NewString()[:8])

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.EnsureSQLiteSchema(context.Background(), conn); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db.FromGorm(conn)
}

// SeedProduct inserts an active product and returns it.
func SeedProduct(t testing.TB, client *db.Client, name string) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, IsActive: true}
	if err := client.DB().Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

// SeedImage binds one logical image in every size class to productID, with
// blobs scoped to the product. Assets come back in size class order.
func SeedImage(t testing.TB, client *db.Client, productID uuid.UUID, contentHash string, index int) []models.ImageAsset {
	t.Helper()
	out := make([]models.ImageAsset, 0, len(enums.SizeClasses))
	for _, sc := range enums.SizeClasses {
		blob := &models.ImageBlob{
			Scope:       productID.String(),
			ContentHash: contentHash,
			SizeClass:   sc,
			ObjectKey:   fmt.Sprintf("seed/%s/%s/%s/%d", productID, contentHash, sc, index),
			URL:         fmt.Sprintf("https://media.test/%s/%s/%d", contentHash[:8], sc, index),
			Digest:      contentHash,
			MimeType:    "image/jpeg",
			Width:       1,
			Height:      1,
			SizeBytes:   1,
			Status:      enums.BlobStatusReady,
		}
		if err := client.DB().Create(blob).Error; err != nil {
			t.Fatalf("seed blob: %v", err)
		}
		asset := models.ImageAsset{
			ProductID:   productID,
			BlobID:      blob.ID,
			ContentHash: contentHash,
			SizeClass:   sc,
			ImageIndex:  index,
			URL:         blob.URL,
		}
		if err := client.DB().Create(&asset).Error; err != nil {
			t.Fatalf("seed asset: %v", err)
		}
		out = append(out, asset)
	}
	return out
}
