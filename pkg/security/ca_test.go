package security

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCAIssue(t *testing.T) {
	ca, err := NewCA("ftb-test-ca")
	require.NoError(t, err)
	assert.True(t, ca.Certificate().IsCA)

	cert, err := ca.Issue("ftb-server", []string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.Leaf.IPAddresses[0].String())

	pool := x509.NewCertPool()
	pool.AddCert(ca.Certificate())
	_, err = cert.Leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		DNSName:   "localhost",
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)
	assert.False(t, CertNeedsRotation(cert.Leaf))
}

func TestCAWriteIdentity(t *testing.T) {
	ca, err := NewCA("ftb-test-ca")
	require.NoError(t, err)

	dir := t.TempDir()
	assert.False(t, CertExists(dir))
	require.NoError(t, ca.WriteIdentity(dir, "ftb-client", nil))
	assert.True(t, CertExists(dir))

	_, err = ClientTLSConfig(dir)
	require.NoError(t, err)
	_, err = ServerTLSConfig(dir)
	require.NoError(t, err)
}
