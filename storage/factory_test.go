package storage

import (
	"testing"

	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageBackendFactory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name        string
		uri         string
		expectedErr bool
		check       func(t *testing.T, backend interfaces.StorageBackend)
	}{
		{
			name: "file",
			uri:  "file://" + dir,
			check: func(t *testing.T, backend interfaces.StorageBackend) {
				assert.IsType(t, &FileBackend{}, backend)
			},
		},
		{
			name: "memory",
			uri:  "memory://node-1",
			check: func(t *testing.T, backend interfaces.StorageBackend) {
				assert.Equal(t, "memory-node-1", backend.Name())
			},
		},
		{
			name: "s3 with credentials",
			uri:  "s3://AKID:SECRET@sealed-bucket/node-1?region=eu-west-1&endpoint=http://localhost:9000",
			check: func(t *testing.T, backend interfaces.StorageBackend) {
				s3Backend, ok := backend.(*S3Backend)
				require.True(t, ok)
				assert.Equal(t, "s3-sealed-bucket", s3Backend.Name())
				assert.NotContains(t, s3Backend.LocationURI(), "SECRET")
				assert.Equal(t, "node-1", s3Backend.prefix)
			},
		},
		{
			name: "vault",
			uri:  "vault://root-token@localhost:8200/secret/node-1?tls=false",
			check: func(t *testing.T, backend interfaces.StorageBackend) {
				vaultBackend, ok := backend.(*VaultBackend)
				require.True(t, ok)
				assert.Equal(t, "vault-secret-node-1", vaultBackend.Name())
				path, err := vaultBackend.secretPath("data", testKey)
				require.NoError(t, err)
				assert.Equal(t, "secret/data/node-1/"+testKey, path)
			},
		},
		{
			name: "ipfs",
			uri:  "ipfs://localhost:5001/registries?timeout=5s",
			check: func(t *testing.T, backend interfaces.StorageBackend) {
				ipfsBackend, ok := backend.(*IPFSBackend)
				require.True(t, ok)
				path, err := ipfsBackend.mfsPath(testKey)
				require.NoError(t, err)
				assert.Equal(t, "/registries/"+testKey, path)
			},
		},
		{name: "s3 without bucket", uri: "s3:///prefix", expectedErr: true},
		{name: "vault without mount", uri: "vault://localhost:8200", expectedErr: true},
		{name: "ipfs bad timeout", uri: "ipfs://localhost:5001/?timeout=soon", expectedErr: true},
	}

	factory := NewStorageBackendFactory(common.DiscardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := interfaces.NewStorageBackendLocation(tt.uri)
			require.NoError(t, err)

			backend, err := factory.StorageBackendFor(location)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, backend)
		})
	}
}

func TestStorageBackendLocationRejectsUnknownScheme(t *testing.T) {
	_, err := interfaces.NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestCreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(common.DiscardLogger())

	memA, err := interfaces.NewStorageBackendLocation("memory://a")
	require.NoError(t, err)
	memB, err := interfaces.NewStorageBackendLocation("memory://b")
	require.NoError(t, err)

	single, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{memA})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, single)

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{memA, memB})
	require.NoError(t, err)
	assert.Equal(t, "multi:[memory://a,memory://b]", multi.LocationURI())

	_, err = factory.CreateMultiBackend(nil)
	assert.Error(t, err)
}
