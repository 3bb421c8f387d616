package provisioning

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

var (
	signerOnce sync.Once
	signerCert *x509.Certificate
	signerKey  *rsa.PrivateKey
	signerErr  error
	serial     int64 = 1000
	serialMu   sync.Mutex
)

// envelopeSigner returns the key pair used to wrap test payloads in CMS
func envelopeSigner(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	signerOnce.Do(func() {
		signerKey, signerErr = rsa.GenerateKey(rand.Reader, 2048)
		if signerErr != nil {
			return
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "Apple iPhone OS Provisioning Profile Signing"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
		}
		var der []byte
		der, signerErr = x509.CreateCertificate(rand.Reader, tmpl, tmpl, &signerKey.PublicKey, signerKey)
		if signerErr != nil {
			return
		}
		signerCert, signerErr = x509.ParseCertificate(der)
	})
	require.NoError(t, signerErr)
	return signerCert, signerKey
}

func nextSerial() int64 {
	serialMu.Lock()
	defer serialMu.Unlock()
	serial++
	return serial
}

// newDeveloperCert creates a DER developer certificate
func newDeveloperCert(t *testing.T, cn string, notBefore, notAfter time.Time) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(nextSerial()),
		Subject: pkix.Name{
			CommonName:         cn,
			Organization:       []string{"Example Corp"},
			OrganizationalUnit: []string{"ABCDE12345"},
			Country:            []string{"US"},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

// profilePayload returns a complete development profile payload
func profilePayload(appID string, expires time.Time, certs ...[]byte) map[string]interface{} {
	if certs == nil {
		certs = [][]byte{}
	}
	return map[string]interface{}{
		"Name":                        "Example Development",
		"AppIDName":                   "Example",
		"ApplicationIdentifierPrefix": []string{"ABCDE12345"},
		"TeamIdentifier":              []string{"ABCDE12345"},
		"TeamName":                    "Example Corp",
		"CreationDate":                expires.AddDate(-1, 0, 0),
		"ExpirationDate":              expires,
		"Platform":                    []string{"iOS"},
		"UUID":                        uuid.NewString(),
		"TimeToLive":                  365,
		"Version":                     1,
		"IsXcodeManaged":              false,
		"ProvisionedDevices":          []string{"00008030-000000000000001E"},
		"DeveloperCertificates":       certs,
		"Entitlements": map[string]interface{}{
			"application-identifier":              "ABCDE12345." + appID,
			"com.apple.developer.team-identifier": "ABCDE12345",
			"aps-environment":                     "development",
			"get-task-allow":                      true,
		},
	}
}

// signPayload wraps a plist payload in a CMS envelope like Apple does
func signPayload(t *testing.T, payload map[string]interface{}) []byte {
	t.Helper()
	content, err := plist.MarshalIndent(payload, plist.XMLFormat, "\t")
	require.NoError(t, err)

	cert, key := envelopeSigner(t)
	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	require.NoError(t, sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}))
	data, err := sd.Finish()
	require.NoError(t, err)
	return data
}

// decodePayload signs and decodes a payload in one step
func decodePayload(t *testing.T, payload map[string]interface{}) *Profile {
	t.Helper()
	p, err := Decode(signPayload(t, payload))
	require.NoError(t, err)
	return p
}

func boolPtr(b bool) *bool { return &b }
