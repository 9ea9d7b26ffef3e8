package kms

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubKeyPEM(t *testing.T, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestSplitMasterKey(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	shares, err := SplitMasterKey(masterKey, 5, 3)
	require.NoError(t, err)
	assert.Len(t, shares, 5)

	recovered, err := CombineShares([][]byte{shares[4], shares[0], shares[2]})
	require.NoError(t, err)
	assert.Equal(t, masterKey, recovered)

	tests := []struct {
		name      string
		key       []byte
		shares    int
		threshold int
	}{
		{name: "threshold above shares", key: masterKey, shares: 3, threshold: 5},
		{name: "threshold below two", key: masterKey, shares: 5, threshold: 1},
		{name: "short master key", key: make([]byte, 16), shares: 5, threshold: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitMasterKey(tt.key, tt.shares, tt.threshold)
			assert.Error(t, err)
		})
	}
}

func TestShamirUnlocker(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)
	shares, err := SplitMasterKey(masterKey, 3, 2)
	require.NoError(t, err)

	ecdsaAdmin, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	outsider, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	ecdsaPEM := pubKeyPEM(t, &ecdsaAdmin.PublicKey)
	edPEM := pubKeyPEM(t, edPub)

	u := NewShamirUnlocker(2)
	require.NoError(t, u.RegisterAdmin(ecdsaPEM))
	require.NoError(t, u.RegisterAdmin(edPEM))
	assert.Error(t, u.RegisterAdmin([]byte("not-a-valid-pem")))

	_, err = u.SealingKeys()
	assert.ErrorIs(t, err, ErrLocked)

	t.Run("unregistered admin", func(t *testing.T) {
		sig, err := SignShare(shares[0], outsider)
		require.NoError(t, err)
		err = u.SubmitShare(0, shares[0], sig, pubKeyPEM(t, &outsider.PublicKey))
		assert.ErrorIs(t, err, ErrUnknownAdmin)
	})

	t.Run("bad signature", func(t *testing.T) {
		err := u.SubmitShare(0, shares[0], []byte("invalid-signature"), ecdsaPEM)
		assert.ErrorIs(t, err, ErrInvalidShareSig)
		assert.Zero(t, u.ReceivedShares())
	})

	t.Run("threshold unlocks", func(t *testing.T) {
		sig, err := SignShare(shares[0], ecdsaAdmin)
		require.NoError(t, err)
		require.NoError(t, u.SubmitShare(0, shares[0], sig, ecdsaPEM))
		assert.False(t, u.IsUnlocked())
		assert.Equal(t, 1, u.ReceivedShares())

		require.NoError(t, u.SubmitShare(1, shares[1], ed25519.Sign(edPriv, shares[1]), edPEM))
		assert.True(t, u.IsUnlocked())

		select {
		case <-u.Unlocked():
		default:
			t.Fatal("Unlocked channel not closed")
		}

		keys, err := u.SealingKeys()
		require.NoError(t, err)
		expected, err := NewSealingKeys(masterKey)
		require.NoError(t, err)

		got, err := keys.KeyFor("signer_registry_sealed.bin")
		require.NoError(t, err)
		want, err := expected.KeyFor("signer_registry_sealed.bin")
		require.NoError(t, err)
		assert.Equal(t, want, got)

		err = u.SubmitShare(2, shares[2], ed25519.Sign(edPriv, shares[2]), edPEM)
		assert.ErrorIs(t, err, ErrAlreadyUnlocked)
	})
}
