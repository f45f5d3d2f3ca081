// Package util provides id generation and environment helpers shared across triageflow components.
package util

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateRandomBase36 generates a random lowercase base36 string of the specified length.
// Not suitable for secrets.
func GenerateRandomBase36(length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(base36Chars[rand.Intn(len(base36Chars))])
	}
	return builder.String()
}

// NewIdempotencyKey returns a random UUID, or "idem-<unix-ms>-<random>" when the
// system random source is unavailable.
func NewIdempotencyKey() string {
	return newUUIDOr("idem")
}

// NewDeviceFingerprint returns a random UUID, or "dev-<unix-ms>-<random>" as fallback.
func NewDeviceFingerprint() string {
	return newUUIDOr("dev")
}

func newUUIDOr(prefix string) string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), GenerateRandomBase36(8))
}

// NewMessageID returns a transcript message id in the form "<role>-<unix-ms>-<random>".
func NewMessageID(role string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", role, at.UnixMilli(), GenerateRandomBase36(6))
}
