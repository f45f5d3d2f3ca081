// Package identity talks to the identity and security endpoints and keeps the
// resulting credentials in the local store.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/security"
	"github.com/carein/triageflow/internal/store"
)

// Unlock methods accepted by /identity/unlock.
const (
	UnlockPIN       = "pin"
	UnlockAgent     = "agent"
	UnlockBiometric = "biometric"
)

// Registration defaults for beneficiaries signing up on their own device.
const (
	CredentialPhone = "phone"
	DefaultKind     = "person"
	DefaultRole     = "Beneficiary"
)

// RegisterRequest is the body of POST /identity/register.
type RegisterRequest struct {
	Kind              string `json:"kind"`
	CredentialType    string `json:"credential_type"`
	Identifier        string `json:"identifier"`
	Secret            string `json:"secret,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	Role              string `json:"role"`
	OrganizationID    string `json:"organization_id"`
}

// LoginRequest is the body of POST /identity/login.
type LoginRequest struct {
	CredentialType    string `json:"credential_type"`
	Identifier        string `json:"identifier"`
	Secret            string `json:"secret,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

type unlockRequest struct {
	Method            string `json:"method"`
	Secret            string `json:"secret,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// Session is the outcome of a login or registration.
type Session struct {
	Token    string
	Identity models.Identity
	Gate     *models.SecurityGate
}

// Service wraps the identity endpoints.
type Service struct {
	client *client.Client
	kv     store.KV
	cache  *security.Cache
}

// NewService creates a Service.
func NewService(c *client.Client, kv store.KV, cache *security.Cache) *Service {
	return &Service{client: c, kv: kv, cache: cache}
}

// CurrentIdentity fetches /identity/me.
func (s *Service) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	resp, err := s.client.Do(ctx, client.Request{Path: "/identity/me"})
	if err != nil {
		return nil, err
	}
	var identity models.Identity
	if err := json.Unmarshal(resp.Body, &identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &identity, nil
}

// CurrentIdentityID returns the id of the signed-in identity.
func (s *Service) CurrentIdentityID(ctx context.Context) (string, error) {
	identity, err := s.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	return identity.ID.String(), nil
}

// Register creates an identity and stores the returned credentials.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = s.cache.DeviceFingerprint(ctx)
	}
	resp, err := s.client.Do(ctx, client.Request{Method: http.MethodPost, Path: "/identity/register", Body: req})
	if err != nil {
		return nil, err
	}
	slog.Info("Identity Register succeeded", "kind", req.Kind, "role", req.Role)
	return s.persist(ctx, resp.Body)
}

// Login signs in and stores the returned credentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = s.cache.DeviceFingerprint(ctx)
	}
	resp, err := s.client.Do(ctx, client.Request{Method: http.MethodPost, Path: "/identity/login", Body: req})
	if err != nil {
		return nil, err
	}
	slog.Info("Identity Login succeeded", "credential_type", req.CredentialType)
	return s.persist(ctx, resp.Body)
}

// Logout ends the session remotely and clears local credentials whatever the
// remote outcome.
func (s *Service) Logout(ctx context.Context) error {
	_, err := s.client.Do(ctx, client.Request{Path: "/identity/logout"})
	if clearErr := s.kv.Delete(ctx, store.SessionKeys...); clearErr != nil {
		slog.Warn("Identity Logout failed to clear local credentials", "error", clearErr)
	}
	return err
}

// SetSecret sets the PIN used to unlock the gate.
func (s *Service) SetSecret(ctx context.Context, rawPIN string) (*models.SecurityGate, error) {
	pin, err := security.ValidatePIN(rawPIN, security.PINSetSecret)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(ctx, client.Request{Method: http.MethodPatch, Path: "/identity/secret", Body: map[string]string{"secret": pin}})
	if err != nil {
		return nil, err
	}
	return s.storeGate(ctx, resp.Body)
}

// Unlock passes the gate with the given method. A PIN is only sent for UnlockPIN.
func (s *Service) Unlock(ctx context.Context, method, rawPIN string) (*models.SecurityGate, error) {
	req := unlockRequest{Method: method, DeviceFingerprint: s.cache.DeviceFingerprint(ctx)}
	if method == UnlockPIN {
		pin, err := security.ValidatePIN(rawPIN, security.PINUnlock)
		if err != nil {
			return nil, err
		}
		req.Secret = pin
	}
	resp, err := s.client.Do(ctx, client.Request{Method: http.MethodPost, Path: "/identity/unlock", Body: req})
	if err != nil {
		return nil, err
	}
	slog.Info("Identity Unlock succeeded", "method", method)
	return s.storeGate(ctx, resp.Body)
}

// PanicLock locks the gate immediately.
func (s *Service) PanicLock(ctx context.Context) (*models.SecurityGate, error) {
	resp, err := s.client.Do(ctx, client.Request{Method: http.MethodPost, Path: "/identity/panic-lock"})
	if err != nil {
		return nil, err
	}
	slog.Info("Identity PanicLock succeeded")
	return s.storeGate(ctx, resp.Body)
}

// SecurityStatus fetches the gate for this device and caches it.
func (s *Service) SecurityStatus(ctx context.Context) (*models.SecurityGate, error) {
	path := "/identity/security/status"
	if fingerprint := s.cache.DeviceFingerprint(ctx); fingerprint != "" {
		path += "?device_fingerprint=" + url.QueryEscape(fingerprint)
	}
	resp, err := s.client.Do(ctx, client.Request{Path: path})
	if err != nil {
		return nil, err
	}
	return s.storeGate(ctx, resp.Body)
}

// storeGate decodes a {security_gate} envelope, or a bare gate, and caches it.
func (s *Service) storeGate(ctx context.Context, body []byte) (*models.SecurityGate, error) {
	gate, err := decodeGate(gjson.ParseBytes(body))
	if err != nil {
		return nil, err
	}
	if gate == nil {
		return nil, nil
	}
	if err := s.cache.StoreGate(ctx, gate); err != nil {
		slog.Warn("Identity failed to cache security gate", "error", err)
	}
	return gate, nil
}

func decodeGate(root gjson.Result) (*models.SecurityGate, error) {
	raw := root.Get("security_gate")
	if !raw.Exists() {
		raw = root
	}
	if !raw.IsObject() {
		return nil, nil
	}
	var gate models.SecurityGate
	if err := json.Unmarshal([]byte(raw.Raw), &gate); err != nil {
		return nil, fmt.Errorf("failed to decode security gate: %w", err)
	}
	return &gate, nil
}

func (s *Service) persist(ctx context.Context, body []byte) (*Session, error) {
	root := gjson.ParseBytes(body)
	sess := &Session{Token: root.Get("token").String()}
	if identity := root.Get("identity"); identity.IsObject() {
		if err := json.Unmarshal([]byte(identity.Raw), &sess.Identity); err != nil {
			return nil, fmt.Errorf("failed to decode identity: %w", err)
		}
	}

	if sess.Token != "" {
		if err := s.kv.Set(ctx, store.KeyAuthToken, sess.Token); err != nil {
			return nil, err
		}
	}
	for key, path := range map[string]string{
		store.KeyIdentity:   "identity",
		store.KeyMembership: "membership",
		store.KeyCredential: "credential",
	} {
		if value := root.Get(path); value.IsObject() {
			if err := s.kv.Set(ctx, key, value.Raw); err != nil {
				return nil, err
			}
		}
	}
	if gateRaw := root.Get("security_gate"); gateRaw.IsObject() {
		gate, err := decodeGate(gateRaw)
		if err != nil {
			return nil, err
		}
		sess.Gate = gate
		if err := s.cache.StoreGate(ctx, gate); err != nil {
			slog.Warn("Identity failed to cache security gate", "error", err)
		}
	}
	return sess, nil
}
