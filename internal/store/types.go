package store

import (
	"errors"
	"strings"
	"time"
)

// Well-known keys.
const (
	KeySettings    = "settings"
	KeySharedEdits = "shared_edits"
	KeyCredits     = "credits"
)

type Entry struct {
	Key       string
	Size      int
	UpdatedAt time.Time
}

var ErrEmptyKey = errors.New("store key must not be empty")

func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
