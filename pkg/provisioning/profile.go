package provisioning

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// Profile represents a decoded .mobileprovision file
type Profile struct {
	Name                        string
	AppIDName                   string
	ApplicationIdentifierPrefix []string
	TeamIdentifier              []string
	TeamName                    string
	CreationDate                time.Time
	ExpirationDate              time.Time
	Platform                    []string
	UUID                        string
	TimeToLive                  int
	Version                     int
	IsXcodeManaged              bool

	// ProvisionedDevices is nil when the profile carries no device list at all.
	ProvisionedDevices []string
	// ProvisionsAllDevices is nil when the key is absent.
	ProvisionsAllDevices *bool

	DeveloperCertificates [][]byte
	Entitlements          Entitlements
}

// profilePlist mirrors the property list payload of a provisioning profile.
type profilePlist struct {
	Name                        string                 `plist:"Name"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	TeamName                    string                 `plist:"TeamName"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	Platform                    []string               `plist:"Platform"`
	UUID                        string                 `plist:"UUID"`
	TimeToLive                  int                    `plist:"TimeToLive"`
	Version                     int                    `plist:"Version"`
	IsXcodeManaged              bool                   `plist:"IsXcodeManaged"`
	ProvisionedDevices          []string               `plist:"ProvisionedDevices"`
	ProvisionsAllDevices        bool                   `plist:"ProvisionsAllDevices"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	Entitlements                map[string]interface{} `plist:"Entitlements"`
}

// requiredKeys must be present in every profile payload.
var requiredKeys = []string{"Name", "UUID", "ExpirationDate", "TeamIdentifier"}

// DecodeError reports a profile that cannot be used at all. Callers drop the
// file and keep scanning.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Key != "" && e.Err != nil:
		return fmt.Sprintf("provisioning profile has an invalid %s: %v", e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("provisioning profile is missing required key %s", e.Key)
	default:
		return fmt.Sprintf("failed to decode provisioning profile: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a .mobileprovision file.
// The file is a CMS (PKCS#7) signed container with a plist payload. The
// signature itself is not verified.
func Decode(data []byte) (*Profile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "failed to parse PKCS#7 container")}
	}

	var keys map[string]interface{}
	if _, err := plist.Unmarshal(p7.Content, &keys); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "failed to parse provisioning profile plist")}
	}
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			return nil, &DecodeError{Key: key}
		}
	}

	var raw profilePlist
	if _, err := plist.Unmarshal(p7.Content, &raw); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "failed to parse provisioning profile plist")}
	}
	if raw.ExpirationDate.IsZero() {
		return nil, &DecodeError{Key: "ExpirationDate"}
	}
	if _, err := uuid.Parse(raw.UUID); err != nil {
		return nil, &DecodeError{Key: "UUID", Err: err}
	}

	profile := &Profile{
		Name:                        raw.Name,
		AppIDName:                   raw.AppIDName,
		ApplicationIdentifierPrefix: raw.ApplicationIdentifierPrefix,
		TeamIdentifier:              raw.TeamIdentifier,
		TeamName:                    raw.TeamName,
		CreationDate:                raw.CreationDate.UTC(),
		ExpirationDate:              raw.ExpirationDate.UTC(),
		Platform:                    raw.Platform,
		UUID:                        raw.UUID,
		TimeToLive:                  raw.TimeToLive,
		Version:                     raw.Version,
		IsXcodeManaged:              raw.IsXcodeManaged,
		DeveloperCertificates:       raw.DeveloperCertificates,
		Entitlements:                parseEntitlements(raw.Entitlements),
	}

	// Presence matters for the distribution method, so it comes from the key
	// set rather than from the zero values of the decoded struct.
	if _, ok := keys["ProvisionedDevices"]; ok {
		profile.ProvisionedDevices = raw.ProvisionedDevices
		if profile.ProvisionedDevices == nil {
			profile.ProvisionedDevices = []string{}
		}
	}
	if _, ok := keys["ProvisionsAllDevices"]; ok {
		all := raw.ProvisionsAllDevices
		profile.ProvisionsAllDevices = &all
	}

	return profile, nil
}

// TeamID returns the first team identifier of the profile, or "" when the
// profile lists none.
func (p *Profile) TeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	return ""
}

// IsExpired reports whether the profile has expired at the given instant
func (p *Profile) IsExpired(now time.Time) bool {
	return now.UTC().After(p.ExpirationDate)
}

// Method derives the distribution method from the profile's entitlements
func (p *Profile) Method() DistributionMethod {
	return Classify(p.Entitlements, p.ProvisionedDevices, p.ProvisionsAllDevices)
}

// ApplicationIdentifier returns the entitlement application identifier with
// the team prefix removed, and false when the profile has none.
func (p *Profile) ApplicationIdentifier() (string, bool) {
	appID := p.Entitlements.ApplicationIdentifier
	if appID == "" {
		return "", false
	}

	for _, prefix := range append(append([]string{}, p.ApplicationIdentifierPrefix...), p.TeamIdentifier...) {
		if prefix != "" && strings.HasPrefix(appID, prefix+".") {
			return strings.TrimPrefix(appID, prefix+"."), true
		}
	}

	// Apple prefixes are ten alphanumeric characters followed by a dot
	if len(appID) > 11 && appID[10] == '.' && isAlphanumeric(appID[:10]) {
		return appID[11:], true
	}
	return appID, true
}

// IsWildcard reports whether the application identifier contains a wildcard
func (p *Profile) IsWildcard() bool {
	return strings.Contains(p.Entitlements.ApplicationIdentifier, "*")
}

// SupportsPlatform reports whether the profile lists the given platform
func (p *Profile) SupportsPlatform(platform Platform) bool {
	for _, name := range p.Platform {
		if PlatformFromProfile(name) == platform {
			return true
		}
	}
	return false
}

// ContainsDevice checks if a specific device UDID is provisioned by this profile
func (p *Profile) ContainsDevice(udid string) bool {
	for _, device := range p.ProvisionedDevices {
		if device == udid {
			return true
		}
	}
	return false
}

func isAlphanumeric(s string) bool {
	for _, c := range s {
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
