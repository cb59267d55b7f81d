package repo

import (
	"context"
	"testing"

	"github.com/angelmondragon/catalog-media/pkg/db/dbtest"
)

type ctxKey struct{}

func TestBaseDBBindsContext(t *testing.T) {
	conn := dbtest.Open(t).DB()
	base := NewBase(conn)

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	withCtx := base.DB(ctx)
	if withCtx == nil || withCtx.Statement == nil {
		t.Fatalf("expected statement created after WithContext")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}
	//nolint:staticcheck // nil context returns the raw handle
	if base.DB(nil) != conn {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestConnPrefersTransaction(t *testing.T) {
	conn := dbtest.Open(t).DB()
	base := NewBase(conn)

	tx := conn.Begin()
	defer tx.Rollback()
	if base.Conn(context.Background(), tx) != tx {
		t.Fatalf("expected caller transaction to be used")
	}
	if got := base.Conn(context.Background(), nil); got == tx || got == nil {
		t.Fatalf("expected root connection without a transaction")
	}
}
