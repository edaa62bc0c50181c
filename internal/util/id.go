package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string, prefixed as "<prefix>_<hex>" when a
// prefix is given.
func NewID(prefix string) string {
	id := uuid.New()
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", "")
}
