// Package security caches the security gate and answers the gate predicates
// used before sensitive health data is shown.
package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/store"
	"github.com/carein/triageflow/internal/util"
)

// MinPINLength is the minimum number of digits in a PIN.
const MinPINLength = 4

// ErrPINTooShort is returned by ValidatePIN when fewer than MinPINLength digits remain.
var ErrPINTooShort = errors.New("security: PIN too short")

// PINPurpose selects the user-facing message for a short PIN.
type PINPurpose int

const (
	PINUnlock PINPurpose = iota
	PINSetSecret
)

// PINError carries the user-facing message for an invalid PIN.
type PINError struct {
	Purpose PINPurpose
}

func (e *PINError) Error() string {
	if e.Purpose == PINSetSecret {
		return "Le code secret doit contenir 4 chiffres."
	}
	return "Entrez votre code secret a 4 chiffres."
}

func (e *PINError) Unwrap() error {
	return ErrPINTooShort
}

// NormalizePIN keeps only the digits of raw.
func NormalizePIN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePIN normalizes raw and checks its length.
func ValidatePIN(raw string, purpose PINPurpose) (string, error) {
	pin := NormalizePIN(raw)
	if len(pin) < MinPINLength {
		return "", &PINError{Purpose: purpose}
	}
	return pin, nil
}

// Cache reads and writes the gate snapshot, the secret flag and the device
// fingerprint in the local store.
type Cache struct {
	kv  store.KV
	now func() time.Time
}

// NewCache creates a Cache over kv.
func NewCache(kv store.KV) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// DeviceFingerprint returns the stored fingerprint, creating it on first use.
// Storage failures yield an unsaved fallback fingerprint.
func (c *Cache) DeviceFingerprint(ctx context.Context) string {
	existing, err := store.GetOptional(ctx, c.kv, store.KeyDeviceFingerprint)
	if err == nil && existing != "" {
		return existing
	}
	if err != nil {
		slog.Warn("SecurityCache DeviceFingerprint read failed", "error", err)
		return util.NewDeviceFingerprint()
	}
	fingerprint := util.NewDeviceFingerprint()
	if err := c.kv.Set(ctx, store.KeyDeviceFingerprint, fingerprint); err != nil {
		slog.Warn("SecurityCache DeviceFingerprint write failed", "error", err)
	}
	slog.Debug("SecurityCache DeviceFingerprint created")
	return fingerprint
}

// Gate returns the cached gate, or nil when none is stored or it is unreadable.
func (c *Cache) Gate(ctx context.Context) *models.SecurityGate {
	raw, err := store.GetOptional(ctx, c.kv, store.KeySecurityGate)
	if err != nil || raw == "" {
		return nil
	}
	var gate models.SecurityGate
	if err := json.Unmarshal([]byte(raw), &gate); err != nil {
		slog.Debug("SecurityCache Gate unreadable", "error", err)
		return nil
	}
	return &gate
}

// StoreGate caches gate. A nil gate removes the cached value. A gate that
// reports a secret also sets the secret flag.
func (c *Cache) StoreGate(ctx context.Context, gate *models.SecurityGate) error {
	if gate == nil {
		return c.kv.Delete(ctx, store.KeySecurityGate)
	}
	data, err := json.Marshal(gate)
	if err != nil {
		return fmt.Errorf("failed to encode security gate: %w", err)
	}
	if err := c.kv.Set(ctx, store.KeySecurityGate, string(data)); err != nil {
		return err
	}
	if hasSecretIndicator(gate) {
		return c.MarkSecretSet(ctx)
	}
	return nil
}

// MarkSecretSet records that the user configured a secret.
func (c *Cache) MarkSecretSet(ctx context.Context) error {
	return c.kv.Set(ctx, store.KeySecretSet, "1")
}

// SecretSetFlag reports whether the secret flag is stored.
func (c *Cache) SecretSetFlag(ctx context.Context) bool {
	v, err := store.GetOptional(ctx, c.kv, store.KeySecretSet)
	return err == nil && v == "1"
}

// IsSecretSet reports whether gate or the stored flag indicate a secret.
func (c *Cache) IsSecretSet(ctx context.Context, gate *models.SecurityGate) bool {
	return hasSecretIndicator(gate) || c.SecretSetFlag(ctx)
}

func hasSecretIndicator(gate *models.SecurityGate) bool {
	return gate != nil && (gate.PINEnabled || gate.SecretSet || gate.SecretSetAt != "")
}

// IsGateLocked reports whether the gate is locked at now: an explicit locked
// state, a panic lock, or a locked_until in the future.
func IsGateLocked(gate *models.SecurityGate, now time.Time) bool {
	if gate == nil {
		return false
	}
	if strings.ToLower(gate.State) == "locked" {
		return true
	}
	if gate.PanicLockedAt != "" {
		return true
	}
	if until, ok := parseLockedUntil(gate.LockedUntil.String()); ok && until.After(now) {
		return true
	}
	return false
}

// IsGateRequired reports whether the user must pass the gate before seeing
// sensitive data.
func IsGateRequired(gate *models.SecurityGate, now time.Time) bool {
	if gate == nil {
		return false
	}
	if IsGateLocked(gate, now) || gate.GateRequired {
		return true
	}
	state := strings.ToLower(gate.State)
	return state == "limited" || state == "restricted"
}

// parseLockedUntil accepts epoch milliseconds or a timestamp string.
func parseLockedUntil(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.UnixMilli(int64(ms)), true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
