package provisioning

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Certificate holds the attributes of one developer certificate embedded in a
// provisioning profile.
type Certificate struct {
	SubjectCommonNames         []string
	SubjectOrganizations       []string
	SubjectOrganizationalUnits []string
	SubjectCountries           []string

	IssuerCommonName          string
	IssuerOrganizations       []string
	IssuerOrganizationalUnits []string
	IssuerCountries           []string

	SerialNumber string // uppercase hex
	NotBefore    time.Time
	NotAfter     time.Time

	// Digest is the uppercase hex SHA-1 of the DER bytes. It is the key the
	// local keychain reports for a signing identity.
	Digest string
	Raw    []byte
}

// CommonName returns the first subject common name, or ""
func (c Certificate) CommonName() string {
	if len(c.SubjectCommonNames) > 0 {
		return c.SubjectCommonNames[0]
	}
	return ""
}

// TeamID returns the organizational unit that looks like an Apple team ID
func (c Certificate) TeamID() string {
	for _, ou := range c.SubjectOrganizationalUnits {
		if len(ou) == 10 && isAlphanumeric(ou) {
			return ou
		}
	}
	return ""
}

// IsValidAt reports whether now falls within [NotBefore, NotAfter]
func (c Certificate) IsValidAt(now time.Time) bool {
	return !now.Before(c.NotBefore) && !now.After(c.NotAfter)
}

// Digest returns the uppercase hex SHA-1 of data
func Digest(data []byte) string {
	sum := sha1.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ParseCertificate parses one DER-encoded certificate blob
func ParseCertificate(der []byte) (Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Certificate{}, errors.Wrap(err, "failed to parse certificate")
	}

	var cn []string
	if cert.Subject.CommonName != "" {
		cn = []string{cert.Subject.CommonName}
	}

	return Certificate{
		SubjectCommonNames:         cn,
		SubjectOrganizations:       cert.Subject.Organization,
		SubjectOrganizationalUnits: cert.Subject.OrganizationalUnit,
		SubjectCountries:           cert.Subject.Country,
		IssuerCommonName:           cert.Issuer.CommonName,
		IssuerOrganizations:        cert.Issuer.Organization,
		IssuerOrganizationalUnits:  cert.Issuer.OrganizationalUnit,
		IssuerCountries:            cert.Issuer.Country,
		SerialNumber:               strings.ToUpper(hex.EncodeToString(cert.SerialNumber.Bytes())),
		NotBefore:                  cert.NotBefore.UTC(),
		NotAfter:                   cert.NotAfter.UTC(),
		Digest:                     Digest(der),
		Raw:                        der,
	}, nil
}

// ExtractCertificates parses the developer certificates of a profile in
// embedded order. Blobs that fail to parse are skipped.
func ExtractCertificates(p *Profile) []Certificate {
	certs := make([]Certificate, 0, len(p.DeveloperCertificates))
	for _, der := range p.DeveloperCertificates {
		cert, err := ParseCertificate(der)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// ValidSigningCertificates returns the profile certificates that have a
// trusted local identity and are valid at now, longest-lived first. Equal
// expirations keep their embedded order.
func ValidSigningCertificates(p *Profile, trusted DigestSet, now time.Time) []Certificate {
	var valid []Certificate
	for _, cert := range ExtractCertificates(p) {
		if !trusted.Contains(cert.Digest) {
			continue
		}
		if !cert.IsValidAt(now) {
			continue
		}
		valid = append(valid, cert)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].NotAfter.After(valid[j].NotAfter)
	})
	return valid
}

// DigestSet is a read-only set of certificate SHA-1 digests
type DigestSet map[string]struct{}

// NewDigestSet builds a set from hex digests in any case, with or without
// colon or space separators.
func NewDigestSet(digests ...string) DigestSet {
	set := make(DigestSet, len(digests))
	for _, d := range digests {
		if n := normalizeDigest(d); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Contains reports whether digest is in the set
func (s DigestSet) Contains(digest string) bool {
	_, ok := s[normalizeDigest(digest)]
	return ok
}

// Add inserts a digest
func (s DigestSet) Add(digest string) {
	if n := normalizeDigest(digest); n != "" {
		s[n] = struct{}{}
	}
}

// Len returns the number of digests in the set
func (s DigestSet) Len() int { return len(s) }

func normalizeDigest(d string) string {
	d = strings.NewReplacer(":", "", " ", "").Replace(strings.TrimSpace(d))
	return strings.ToUpper(d)
}
