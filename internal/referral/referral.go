// Package referral captures invitation codes, keeps the pending code in the
// local store and builds shareable referral links.
package referral

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/mdp/qrterminal/v3"

	"github.com/carein/triageflow/internal/store"
)

// Defaults for referral links.
const (
	DefaultBaseURL = "https://triage.carein.cloud"
	DefaultPath    = "/r"
)

// Normalize trims code; blank codes become "".
func Normalize(code string) string {
	return strings.TrimSpace(code)
}

// FromQuery extracts a code from the ref or referral query parameter.
func FromQuery(values url.Values) string {
	if values == nil {
		return ""
	}
	if values.Has("ref") {
		return Normalize(values.Get("ref"))
	}
	return Normalize(values.Get("referral"))
}

// Store persists the pending referral code.
type Store struct {
	kv store.KV
}

// NewStore creates a referral Store over kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Save stores code. Blank codes are ignored.
func (s *Store) Save(ctx context.Context, code string) error {
	code = Normalize(code)
	if code == "" {
		return nil
	}
	slog.Debug("Referral Save", "code", code)
	return s.kv.Set(ctx, store.KeyReferralCode, code)
}

// Code returns the stored code, or "" when none is stored or it is unreadable.
func (s *Store) Code(ctx context.Context) string {
	code, err := store.GetOptional(ctx, s.kv, store.KeyReferralCode)
	if err != nil {
		slog.Debug("Referral Code read failed", "error", err)
		return ""
	}
	return Normalize(code)
}

// ReferralCode implements the engine's referral source.
func (s *Store) ReferralCode(ctx context.Context) string {
	return s.Code(ctx)
}

// Clear removes the stored code.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, store.KeyReferralCode)
}

// Capture stores the code found in values, if any, and returns it.
func (s *Store) Capture(ctx context.Context, values url.Values) (string, error) {
	code := FromQuery(values)
	if code == "" {
		return "", nil
	}
	return code, s.Save(ctx, code)
}

// LinkBuilder builds referral links.
type LinkBuilder struct {
	BaseURL string
	Path    string
}

// URL returns {base}{path}/{code}.
func (b LinkBuilder) URL(code string) string {
	base := strings.TrimSuffix(strings.TrimSpace(b.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	path := DefaultPath
	if p := strings.TrimSpace(b.Path); p != "" {
		path = "/" + strings.TrimLeft(p, "/")
	}
	return base + path + "/" + url.PathEscape(code)
}

// WriteQR renders the referral link as a terminal QR code.
func (b LinkBuilder) WriteQR(w io.Writer, code string) string {
	link := b.URL(code)
	qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
	return link
}
