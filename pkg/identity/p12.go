package identity

import (
	"context"
	"crypto/x509"
	"os"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/pkg/errors"
	gop12 "software.sslmate.com/src/go-pkcs12"
)

// SigningIdentity is the leaf certificate of a PKCS#12 archive whose private
// key decoded successfully
type SigningIdentity struct {
	Certificate *x509.Certificate
	TeamID      string
}

// Digest returns the keychain style SHA-1 of the certificate
func (s *SigningIdentity) Digest() string {
	return provisioning.Digest(s.Certificate.Raw)
}

// LoadSigningIdentity decodes a PKCS#12 archive
func LoadSigningIdentity(p12Data []byte, password string) (*SigningIdentity, error) {
	_, cert, _, err := gop12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode P12")
	}
	return &SigningIdentity{Certificate: cert, TeamID: extractTeamID(cert)}, nil
}

func extractTeamID(cert *x509.Certificate) string {
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}

// PKCS12Store trusts the leaf certificates of a set of .p12 files. All files
// share one password.
type PKCS12Store struct {
	Paths    []string
	Password string
}

// Identities decodes every configured file
func (s *PKCS12Store) Identities() ([]*SigningIdentity, error) {
	ids := make([]*SigningIdentity, 0, len(s.Paths))
	for _, path := range s.Paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		id, err := LoadSigningIdentity(data, s.Password)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", path)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *PKCS12Store) TrustedDigests(ctx context.Context) (provisioning.DigestSet, error) {
	ids, err := s.Identities()
	if err != nil {
		return nil, err
	}
	set := provisioning.NewDigestSet()
	for _, id := range ids {
		set.Add(id.Digest())
	}
	return set, nil
}

// Static is a fixed set of trusted digests
type Static []string

func (s Static) TrustedDigests(context.Context) (provisioning.DigestSet, error) {
	return provisioning.NewDigestSet(s...), nil
}
