package util

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 16
)

// NewID returns a URL-safe random id, optionally prefixed as "prefix_id".
func NewID(prefix string) string {
	id := nanoid.MustGenerate(idAlphabet, idLength)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
