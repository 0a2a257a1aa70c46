package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error taxonomy surfaced at service boundaries.
var (
	ErrIllegalTransition            = errors.New("illegal state transition")
	ErrNotFound                     = errors.New("not found")
	ErrValidation                   = errors.New("validation failed")
	ErrManualConfirmationRequired   = errors.New("manual confirmation required")
	ErrUnauthorized                 = errors.New("unauthorized")
	ErrRateLimited                  = errors.New("rate limit exceeded")
	ErrTokenUnusable                = errors.New("token expired or already used")
)

// NewID returns a short prefixed identifier, e.g. "post_1a2b3c4d".
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
