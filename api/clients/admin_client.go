package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/kms"
)

var ErrNoAdminKey = errors.New("admin private key required")

// StatusError is returned for non-200 responses of the ops API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.Code, e.Body)
}

func (c *NodeClient) AdminStatus(ctx context.Context) (*api.AdminStatusResponse, error) {
	var resp api.AdminStatusResponse
	if err := c.get(ctx, api.AdminStatusPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitShare submits one share of the sealing master key, signed with the
// client's admin key.
func (c *NodeClient) SubmitShare(ctx context.Context, shareIndex int, share []byte) (*api.AdminShareResponse, error) {
	if c.privateKey == nil {
		return nil, ErrNoAdminKey
	}
	signature, err := kms.SignShare(share, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share: %w", err)
	}

	var resp api.AdminShareResponse
	err = c.postSigned(ctx, api.AdminSharePath, api.AdminShareRequest{
		ShareIndex: shareIndex,
		Share:      base64.StdEncoding.EncodeToString(share),
		Signature:  base64.StdEncoding.EncodeToString(signature),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForUnlock polls the admin status until the node reports unlocked.
func (c *NodeClient) WaitForUnlock(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.AdminStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get unlock status: %w", err)
		}
		if status.State == api.UnlockStateUnlocked {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateSignedAdminRequest builds a request carrying the admin headers.
func CreateSignedAdminRequest(method, reqURL string, body []byte, adminID string, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := SignAdminRequest(req, adminID, privateKey); err != nil {
		return nil, err
	}
	return req, nil
}

// SignAdminRequest adds the admin headers to an existing request, stamped with the
// current time and a fresh nonce. A signed request is accepted once.
func SignAdminRequest(req *http.Request, adminID string, privateKey *ecdsa.PrivateKey) error {
	return SignAdminRequestAt(req, adminID, privateKey, time.Now())
}

func SignAdminRequestAt(req *http.Request, adminID string, privateKey *ecdsa.PrivateKey, at time.Time) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	timestamp := strconv.FormatInt(at.Unix(), 10)
	nonce := uuid.NewString()
	hash := api.AdminRequestDigest(req.Method, req.URL.Path, timestamp, nonce, bodyBytes)
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set(api.AdminIDHeader, adminID)
	req.Header.Set(api.AdminTimestampHeader, timestamp)
	req.Header.Set(api.AdminNonceHeader, nonce)
	req.Header.Set(api.AdminSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	return nil
}

// GenerateAdminKeyPair returns a fresh P-256 admin key as private and public PEM.
func GenerateAdminKeyPair() (string, string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes})

	return string(privateKeyPEM), string(publicKeyPEM), nil
}

func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}
	return privateKey, nil
}
