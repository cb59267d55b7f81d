package enums

import (
	"fmt"
	"strings"
)

// DedupScope decides whether content identity is matched across products or per product.
type DedupScope string

const (
	DedupScopeGlobal DedupScope = "global"
	DedupScopeLocal  DedupScope = "local"
)

// String returns the literal string for the scope.
func (d DedupScope) String() string {
	return string(d)
}

// IsValid reports whether the scope is known.
func (d DedupScope) IsValid() bool {
	return d == DedupScopeGlobal || d == DedupScopeLocal
}

// ParseDedupScope converts raw input into a DedupScope. Empty input means global.
func ParseDedupScope(value string) (DedupScope, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(DedupScopeGlobal):
		return DedupScopeGlobal, nil
	case string(DedupScopeLocal):
		return DedupScopeLocal, nil
	}
	return "", fmt.Errorf("invalid dedup scope %q", value)
}
