package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/kms"
)

type adminIDKey struct{}

// AdminIDFromContext returns the admin that signed the request, if any.
func AdminIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminIDKey{}).(string)
	return id, ok
}

const (
	// DefaultAdminRequestWindow bounds how far an admin request timestamp may be
	// from the node clock.
	DefaultAdminRequestWindow = 5 * time.Minute
	// DefaultMaxAdminBody caps the body read before the signature is checked.
	DefaultMaxAdminBody = 1 << 20

	maxNonceLength = 128
)

var (
	ErrAdminUnauthorized = errors.New("admin authentication failed")
	ErrStaleAdminRequest = errors.New("admin request timestamp outside the accepted window")
	ErrReplayedRequest   = errors.New("admin request nonce already used")
)

// AdminAuth verifies admin request signatures against a whitelist of public keys.
// Each signed request carries a timestamp and a nonce; a nonce is remembered until
// its timestamp leaves the accepted window, so a captured request cannot be
// replayed.
type AdminAuth struct {
	log     *slog.Logger
	keys    map[string][]byte // admin ID to public key PEM
	window  time.Duration
	maxBody int64
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // admin ID and nonce to expiry
}

type AdminAuthOption func(*AdminAuth)

func WithAdminRequestWindow(window time.Duration) AdminAuthOption {
	return func(a *AdminAuth) {
		if window > 0 {
			a.window = window
		}
	}
}

func WithMaxAdminBody(limit int64) AdminAuthOption {
	return func(a *AdminAuth) {
		if limit > 0 {
			a.maxBody = limit
		}
	}
}

func NewAdminAuth(log *slog.Logger, adminPubKeys map[string][]byte, opts ...AdminAuthOption) *AdminAuth {
	a := &AdminAuth{
		log:     log,
		keys:    adminPubKeys,
		window:  DefaultAdminRequestWindow,
		maxBody: DefaultMaxAdminBody,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PubKey returns the registered public key PEM of adminID.
func (a *AdminAuth) PubKey(adminID string) ([]byte, bool) {
	key, ok := a.keys[adminID]
	return key, ok
}

func (a *AdminAuth) Admins() int {
	return len(a.keys)
}

// Verify checks the admin headers of r and records its nonce. The body is read
// through http.MaxBytesReader and restored for later handlers; an oversized body
// yields an *http.MaxBytesError.
func (a *AdminAuth) Verify(w http.ResponseWriter, r *http.Request) (string, error) {
	adminID := r.Header.Get(api.AdminIDHeader)
	adminSignatureStr := r.Header.Get(api.AdminSignatureHeader)
	timestamp := r.Header.Get(api.AdminTimestampHeader)
	nonce := r.Header.Get(api.AdminNonceHeader)
	if adminID == "" || adminSignatureStr == "" || timestamp == "" || nonce == "" || len(nonce) > maxNonceLength {
		return "", fmt.Errorf("%w: missing admin headers", ErrAdminUnauthorized)
	}

	pubKeyPEM, exists := a.keys[adminID]
	if !exists {
		a.log.Warn("Authentication failed: unknown admin ID", "adminID", adminID)
		return adminID, fmt.Errorf("%w: unknown admin", ErrAdminUnauthorized)
	}

	adminSignature, err := base64.StdEncoding.DecodeString(adminSignatureStr)
	if err != nil {
		a.log.Warn("Authentication failed: invalid signature encoding", "adminID", adminID, "err", err)
		return adminID, fmt.Errorf("%w: invalid signature encoding", ErrAdminUnauthorized)
	}

	ecdsaPubKey, err := parseECDSAPublicKey(pubKeyPEM)
	if err != nil {
		a.log.Error("Unusable admin public key", "adminID", adminID, "err", err)
		return adminID, fmt.Errorf("%w: unusable admin key", ErrAdminUnauthorized)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return adminID, fmt.Errorf("%w: invalid timestamp", ErrAdminUnauthorized)
	}
	now := a.now()
	signedAt := time.Unix(unix, 0)
	if signedAt.Before(now.Add(-a.window)) || signedAt.After(now.Add(a.window)) {
		a.log.Warn("Authentication failed: stale request", "adminID", adminID, slog.Time("signedAt", signedAt))
		return adminID, ErrStaleAdminRequest
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
		if err != nil {
			a.log.Warn("Failed to read request body", "adminID", adminID, "err", err)
			return adminID, err
		}
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	hash := api.AdminRequestDigest(r.Method, r.URL.Path, timestamp, nonce, bodyBytes)
	if !ecdsa.VerifyASN1(ecdsaPubKey, hash[:], adminSignature) {
		a.log.Warn("Authentication failed: invalid signature", "adminID", adminID)
		return adminID, fmt.Errorf("%w: invalid signature", ErrAdminUnauthorized)
	}

	if !a.remember(adminID+"/"+nonce, signedAt.Add(a.window), now) {
		a.log.Warn("Authentication failed: replayed request", "adminID", adminID)
		return adminID, ErrReplayedRequest
	}

	a.log.Debug("Admin authentication successful", "adminID", adminID)
	return adminID, nil
}

// remember records key until expiry and reports false if it was already recorded.
func (a *AdminAuth) remember(key string, expiry, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, exp := range a.seen {
		if now.After(exp) {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = expiry
	return true
}

// RequireAdmin rejects requests without a valid admin signature with 401, and
// bodies above the admin limit with 413.
func (a *AdminAuth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, err := a.Verify(w, r)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		case err != nil:
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminIDKey{}, adminID)))
	})
}

func parseECDSAPublicKey(pubKeyPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecdsaPubKey, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA key")
	}
	return ecdsaPubKey, nil
}

// LoadAdminKeys loads admin public keys from a JSON document of the form
// {"admins": [{"id": "...", "pubkey": "<PEM>"}]}.
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var data struct {
		Admins []struct {
			ID     string `json:"id"`
			PubKey string `json:"pubkey"`
		} `json:"admins"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	result := make(map[string][]byte, len(data.Admins))
	for _, admin := range data.Admins {
		if admin.ID == "" {
			return nil, errors.New("admin entry without id")
		}
		if _, dup := result[admin.ID]; dup {
			return nil, fmt.Errorf("duplicate admin id %s", admin.ID)
		}
		if _, err := parseECDSAPublicKey([]byte(admin.PubKey)); err != nil {
			return nil, fmt.Errorf("invalid public key for admin %s: %w", admin.ID, err)
		}
		result[admin.ID] = []byte(admin.PubKey)
	}

	return result, nil
}

// AdminHandler serves the unlock flow of the sealing master key. Without an
// unlocker the node started with its key already available and reports unlocked.
type AdminHandler struct {
	log      *slog.Logger
	auth     *AdminAuth
	unlocker *kms.ShamirUnlocker
}

func NewAdminHandler(log *slog.Logger, auth *AdminAuth, unlocker *kms.ShamirUnlocker) *AdminHandler {
	return &AdminHandler{log: log, auth: auth, unlocker: unlocker}
}

func (h *AdminHandler) state() string {
	if h.unlocker == nil || h.unlocker.IsUnlocked() {
		return api.UnlockStateUnlocked
	}
	return api.UnlockStateLocked
}

// WaitForUnlock blocks until enough shares were submitted to reconstruct the
// master key, then returns the sealing keys derived from it.
func (h *AdminHandler) WaitForUnlock(ctx context.Context) (*kms.SealingKeys, error) {
	if h.unlocker == nil {
		return nil, errors.New("no shamir unlocker configured")
	}
	select {
	case <-h.unlocker.Unlocked():
		return h.unlocker.SealingKeys()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AdminRouter serves GET /status and the signed POST /share.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.With(h.auth.RequireAdmin).Post("/share", h.handleSubmitShare)
	return r
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := api.AdminStatusResponse{State: h.state()}
	if resp.State == api.UnlockStateLocked {
		resp.Threshold = h.unlocker.Threshold()
		resp.ReceivedShares = h.unlocker.ReceivedShares()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID, _ := AdminIDFromContext(r.Context())

	if h.state() == api.UnlockStateUnlocked {
		http.Error(w, kms.ErrAlreadyUnlocked.Error(), http.StatusConflict)
		return
	}

	var submission api.AdminShareRequest
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	share, err := base64.StdEncoding.DecodeString(submission.Share)
	if err != nil {
		http.Error(w, "Invalid share encoding", http.StatusBadRequest)
		return
	}

	signature, err := base64.StdEncoding.DecodeString(submission.Signature)
	if err != nil {
		http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
		return
	}

	adminPubKeyPEM, _ := h.auth.PubKey(adminID)
	if err := h.unlocker.SubmitShare(submission.ShareIndex, share, signature, adminPubKeyPEM); err != nil {
		h.log.Error("Share submission failed", "err", err, "adminID", adminID)
		status := http.StatusBadRequest
		if errors.Is(err, kms.ErrAlreadyUnlocked) {
			status = http.StatusConflict
		}
		http.Error(w, "Share submission failed: "+err.Error(), status)
		return
	}

	resp := api.AdminShareResponse{State: h.state()}
	if resp.State == api.UnlockStateUnlocked {
		resp.Message = "master key unlocked"
		h.log.Info("Master key unlocked", "adminID", adminID)
	} else {
		resp.Message = "share accepted, waiting for more shares"
		h.log.Info("Share accepted", "adminID", adminID, "shareIndex", submission.ShareIndex)
	}
	writeJSON(w, http.StatusOK, resp)
}
