package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// StorageBackendLocation is a parsed --storage URI, for example
// "s3://bucket/registries?region=eu-west-1" or "vault://vault:8200/secret/signer".
type StorageBackendLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Auth   string // userinfo, if present
}

// NewStorageBackendLocation parses uri and rejects schemes no backend serves.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "file", "s3", "ipfs", "vault", "memory":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme: %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool accepts "true", "1" and "yes".
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	switch loc.Query.Get(name) {
	case "true", "1", "yes":
		return true
	}
	return false
}

var (
	// ErrContentNotFound means no blob is stored under the requested name.
	ErrContentNotFound = errors.New("content not found")

	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI reports a malformed URI or an unknown scheme.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrUnsealFailed is returned when a sealed blob fails authentication.
	ErrUnsealFailed = errors.New("failed to unseal blob")
)

// StorageBackend stores opaque blobs under fixed names. Registries keep one blob each.
type StorageBackend interface {
	// Fetch retrieves the blob stored under key. Returns ErrContentNotFound if absent.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Store replaces the blob under key. Readers never observe a partial write.
	Store(ctx context.Context, key string, data []byte) error

	// Delete removes the blob under key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Available(ctx context.Context) bool

	// Name is used in logs.
	Name() string

	LocationURI() string
}

// ReplicatedBackend is implemented by backends that hold several copies of a blob.
// Readers that can order copies, such as a sealed blob with its sequence number,
// use FetchReplicas to pick the newest instead of the first copy found.
type ReplicatedBackend interface {
	// FetchReplicas returns every copy held by a reachable replica. Returns
	// ErrContentNotFound if every replica reported the key as missing.
	FetchReplicas(ctx context.Context, key string) ([][]byte, error)
}

// StorageBackendFactory opens backends from parsed locations.
type StorageBackendFactory interface {
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend replicates writes to every location. Plain reads return
	// the first copy found; see ReplicatedBackend.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}
