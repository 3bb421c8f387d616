package provisioning

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when no installed profile can sign a bundle
// identifier with the requested method.
type NotFoundError struct {
	BundleID string
	Method   DistributionMethod
	Platform Platform
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no valid %s provisioning profile found for bundle identifier %q on %s", e.Method, e.BundleID, e.Platform)
}

// CanSignBundleIdentifier reports whether the profile's application
// identifier covers bundleID. A wildcard matches any suffix; otherwise the
// identifiers must be equal once the team prefix is removed.
func (p *Profile) CanSignBundleIdentifier(bundleID string) bool {
	appID, ok := p.ApplicationIdentifier()
	if !ok {
		return false
	}
	return MatchApplicationIdentifier(appID, bundleID)
}

// MatchApplicationIdentifier matches a team-prefix-free application
// identifier against a bundle identifier. The first "*" in appID matches any
// run of characters.
func MatchApplicationIdentifier(appID, bundleID string) bool {
	star := strings.Index(appID, "*")
	if star < 0 {
		return appID == bundleID
	}
	prefix, suffix := appID[:star], appID[star+1:]
	return len(bundleID) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(bundleID, prefix) &&
		strings.HasSuffix(bundleID, suffix)
}

// Matches reports whether the profile passes every filter for the request
func (p *Profile) Matches(bundleID string, method DistributionMethod, platform Platform) bool {
	return p.Method() == method &&
		p.CanSignBundleIdentifier(bundleID) &&
		p.SupportsPlatform(platform)
}

// Candidates returns the profiles that pass every filter, in input order
func Candidates(profiles []*Profile, bundleID string, method DistributionMethod, platform Platform) []*Profile {
	var out []*Profile
	for _, p := range profiles {
		if p != nil && p.Matches(bundleID, method, platform) {
			out = append(out, p)
		}
	}
	return out
}

// FindBestProfile selects the matching profile with the latest expiration
// date. Among equal expirations the first one in input order wins.
func FindBestProfile(profiles []*Profile, bundleID string, method DistributionMethod, platform Platform) (*Profile, error) {
	var best *Profile
	for _, p := range Candidates(profiles, bundleID, method, platform) {
		if best == nil || p.ExpirationDate.After(best.ExpirationDate) {
			best = p
		}
	}
	if best == nil {
		return nil, &NotFoundError{BundleID: bundleID, Method: method, Platform: platform}
	}
	return best, nil
}
