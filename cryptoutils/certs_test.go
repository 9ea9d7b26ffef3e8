package cryptoutils

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCertPEM(t *testing.T) {
	keyPEM, certPEM, err := GenerateCertPEM("signer-1", "localhost", "127.0.0.1")
	require.NoError(t, err)

	assert.NoError(t, VerifyCertificate(keyPEM, certPEM, "signer-1"))
	assert.Error(t, VerifyCertificate(keyPEM, certPEM, "signer-2"))

	otherKey, _, err := GenerateCertPEM("signer-1")
	require.NoError(t, err)
	assert.Error(t, VerifyCertificate(otherKey, certPEM, "signer-1"))
}

func TestRandomCert(t *testing.T) {
	cert, err := RandomCert("localhost", "127.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, parsed.DNSNames)
	assert.Len(t, parsed.IPAddresses, 1)

	cfg := ServerTLSConfig(cert)
	assert.Len(t, cfg.Certificates, 1)
	assert.True(t, InsecurePeerTLSConfig().InsecureSkipVerify)
}
