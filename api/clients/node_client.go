package clients

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/events"
)

// NodeClient talks to the ops API of one signer node. Admin operations need
// adminID and privateKey; read-only calls work without them.
type NodeClient struct {
	baseURL    string
	adminID    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewNodeClient creates a client for baseURL (e.g. "http://127.0.0.1:8080").
// The request timeout defaults to 30 seconds.
func NewNodeClient(baseURL, adminID string, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *NodeClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &NodeClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminID:    adminID,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

func (c *NodeClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *NodeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *NodeClient) postSigned(ctx context.Context, path string, body any, out any) error {
	if c.privateKey == nil {
		return ErrNoAdminKey
	}
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := CreateSignedAdminRequest(http.MethodPost, c.baseURL+path, reqJSON, c.adminID, c.privateKey)
	if err != nil {
		return err
	}
	return c.do(req.WithContext(ctx), out)
}

func (c *NodeClient) Status(ctx context.Context) (*api.NodeStatusResponse, error) {
	var resp api.NodeStatusResponse
	if err := c.get(ctx, api.NodeStatusPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Signers(ctx context.Context) (*api.SignersResponse, error) {
	var resp api.SignersResponse
	if err := c.get(ctx, api.SignersPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Enclaves(ctx context.Context) (*api.EnclavesResponse, error) {
	var resp api.EnclavesResponse
	if err := c.get(ctx, api.EnclavesPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Relayers(ctx context.Context) (*api.RelayersResponse, error) {
	var resp api.RelayersResponse
	if err := c.get(ctx, api.RelayersPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) ScheduledEnclaves(ctx context.Context) (*api.ScheduledEnclavesResponse, error) {
	var resp api.ScheduledEnclavesResponse
	if err := c.get(ctx, api.ScheduledPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *NodeClient) Peers(ctx context.Context) (*api.PeersResponse, error) {
	var resp api.PeersResponse
	if err := c.get(ctx, api.PeersPath, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitEvents asks the node to apply evs. A batch in which every event was
// rejected comes back as a *StatusError with code 422.
func (c *NodeClient) SubmitEvents(ctx context.Context, evs []events.Event) (*api.SubmitEventsResponse, error) {
	var resp api.SubmitEventsResponse
	if err := c.postSigned(ctx, api.EventsPath, evs, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
