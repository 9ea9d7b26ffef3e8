package api

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// Headers carrying the admin request signature. The signature is made with the
// admin's ECDSA key over AdminRequestDigest. The timestamp is in unix seconds and
// the nonce is never accepted twice within the timestamp window.
const (
	AdminIDHeader        = "X-Admin-ID"
	AdminSignatureHeader = "X-Admin-Signature"
	AdminTimestampHeader = "X-Admin-Timestamp"
	AdminNonceHeader     = "X-Admin-Nonce"
)

// AdminRequestDigest is the digest an admin signs:
// sha256(method \n path \n timestamp \n nonce \n body).
func AdminRequestDigest(method, path, timestamp, nonce string, body []byte) [32]byte {
	h := sha256.New()
	for _, field := range []string{method, path, timestamp, nonce} {
		h.Write([]byte(field))
		h.Write([]byte{'\n'})
	}
	h.Write(body)
	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}

// Paths of the node ops API.
const (
	SignersPath     = "/api/registries/signers"
	EnclavesPath    = "/api/registries/enclaves"
	RelayersPath    = "/api/registries/relayers"
	ScheduledPath   = "/api/registries/scheduled-enclaves"
	PeersPath       = "/api/peers"
	EventsPath      = "/api/events"
	NodeStatusPath  = "/api/status"
	AdminStatusPath = "/api/admin/status"
	AdminSharePath  = "/api/admin/share"
)

// States reported by the admin status endpoint.
const (
	UnlockStateLocked   = "locked"
	UnlockStateUnlocked = "unlocked"
)

type SignersResponse struct {
	Signers []interfaces.SignerEntry `json:"signers"`
}

type EnclavesResponse struct {
	WorkerType interfaces.WorkerType     `json:"worker_type"`
	Enclaves   []interfaces.EnclaveEntry `json:"enclaves"`
}

type RelayersResponse struct {
	Relayers []interfaces.Address32 `json:"relayers"`
}

type ScheduledEnclavesResponse struct {
	WorkerType interfaces.WorkerType              `json:"worker_type"`
	Scheduled  []interfaces.ScheduledEnclaveEntry `json:"scheduled"`
}

type PeersResponse struct {
	Connected []interfaces.SignerID `json:"connected"`
}

// NodeStatusResponse summarizes the node for operators.
type NodeStatusResponse struct {
	Self       interfaces.SignerID   `json:"self"`
	WorkerType interfaces.WorkerType `json:"worker_type"`
	Signers    int                   `json:"signers"`
	Enclaves   int                   `json:"enclaves"`
	Relayers   int                   `json:"relayers"`
	Scheduled  int                   `json:"scheduled_enclaves"`
	Peers      int                   `json:"peers"`
	Poisoned   []string              `json:"poisoned,omitempty"`
}

// SubmitEventsResponse lists the hashes of applied events. Errors holds one line
// per event that was rejected.
type SubmitEventsResponse struct {
	Applied []common.Hash `json:"applied"`
	Errors  []string      `json:"errors,omitempty"`
}

type AdminStatusResponse struct {
	State          string `json:"state"`
	Threshold      int    `json:"threshold,omitempty"`
	ReceivedShares int    `json:"received_shares,omitempty"`
}

// AdminShareRequest carries one Shamir share of the sealing master key.
type AdminShareRequest struct {
	ShareIndex int    `json:"share_index"`
	Share      string `json:"share"`     // base64 encoded
	Signature  string `json:"signature"` // base64 encoded
}

type AdminShareResponse struct {
	Message string `json:"message"`
	State   string `json:"state"`
}
