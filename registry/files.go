package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// Blob names under which each registry is sealed.
const (
	SignerRegistryFile  = "signer_registry_sealed.bin"
	EnclaveRegistryFile = "enclave_registry_sealed.bin"
	RelayerRegistryFile = "relayer_registry_sealed.bin"

	ScheduledEnclaveRegistryFile = "scheduled_enclave_sealed.bin"
)

// AllFiles lists every sealed registry blob.
var AllFiles = []string{SignerRegistryFile, EnclaveRegistryFile, RelayerRegistryFile, ScheduledEnclaveRegistryFile}

// Purge deletes every sealed registry blob from the backend. The next Init on a
// purged backend starts from empty registries.
func Purge(ctx context.Context, backend interfaces.StorageBackend) error {
	var errs []error
	for _, name := range AllFiles {
		if err := backend.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
