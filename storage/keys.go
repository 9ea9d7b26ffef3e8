package storage

import (
	"fmt"
	"strings"
)

// validateKey rejects keys that could escape a backend's namespace. Blob names are
// fixed identifiers such as "signer_registry_sealed.bin".
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid storage key: %q", key)
	}
	return nil
}
