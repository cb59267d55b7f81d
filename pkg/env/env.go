// Package env reads the few variables consulted before config.Load runs.
package env

import (
	"os"
	"strings"
)

// Prefix matches the envconfig prefix used by pkg/config.
const Prefix = "CATALOG_MEDIA_"

// Get returns the trimmed value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Service reads Prefix+key.
func Service(key, fallback string) string {
	return Get(Prefix+key, fallback)
}
