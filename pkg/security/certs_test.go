package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestPKI issues a CA and a leaf certificate into a temp directory
func writeTestPKI(t *testing.T, validFor time.Duration) string {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ftb-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validFor),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "ftb-node"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	require.NoError(t, err)

	require.NoError(t, SaveCertToFile(&tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, dir))
	require.NoError(t, SaveCACertToFile(caDER, dir))
	return dir
}

func TestSaveLoadCerts(t *testing.T) {
	dir := writeTestPKI(t, 365*24*time.Hour)
	assert.True(t, CertExists(dir))

	cert, err := LoadCertFromFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "ftb-node", cert.Leaf.Subject.CommonName)
	assert.False(t, CertNeedsRotation(cert.Leaf))

	ca, err := LoadCACertFromFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "ftb-test-ca", ca.Subject.CommonName)
}

func TestCertExistsMissing(t *testing.T) {
	assert.False(t, CertExists(t.TempDir()))

	_, err := LoadCertFromFile(t.TempDir())
	assert.Error(t, err)
	_, err = ServerTLSConfig(t.TempDir())
	assert.Error(t, err)
}

func TestCertNeedsRotation(t *testing.T) {
	dir := writeTestPKI(t, 24*time.Hour)
	cert, err := LoadCertFromFile(dir)
	require.NoError(t, err)

	assert.True(t, CertNeedsRotation(cert.Leaf))
	assert.True(t, CertNeedsRotation(nil))
}

func TestTLSConfigs(t *testing.T) {
	dir := writeTestPKI(t, 365*24*time.Hour)

	server, err := ServerTLSConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, server.ClientAuth)
	assert.NotNil(t, server.ClientCAs)
	assert.Len(t, server.Certificates, 1)

	client, err := ClientTLSConfig(dir)
	require.NoError(t, err)
	assert.NotNil(t, client.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS13), client.MinVersion)
}
