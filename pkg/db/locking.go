package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dialectPostgres = "postgres"

// IsPostgres reports whether tx talks to Postgres.
func IsPostgres(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && tx.Dialector.Name() == dialectPostgres
}

// ForUpdate adds SELECT ... FOR UPDATE on Postgres. SQLite serializes writers
// itself and rejects the clause, so the query is returned untouched there.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if IsPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	return tx
}

// AdvisoryXactLock takes transaction-scoped advisory locks for keys, in order.
// The locks are released by commit or rollback. No-op outside Postgres.
func AdvisoryXactLock(tx *gorm.DB, keys ...string) error {
	if !IsPostgres(tx) {
		return nil
	}
	for _, key := range keys {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
	}
	return nil
}
