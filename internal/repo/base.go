package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by repositories whose methods run either on the root
// handle or inside a caller's transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the root connection bound to ctx, if any.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Conn returns tx when the caller owns a transaction, otherwise the root
// connection bound to ctx.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return b.DB(ctx)
}
