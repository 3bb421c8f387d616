package provisioning

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// DescribeOptions controls how dates are rendered by Describe
type DescribeOptions struct {
	// TimeLayout defaults to "2006-01-02 15:04:05".
	TimeLayout string
	// Location defaults to UTC.
	Location *time.Location
	// Now is used for "expires in" figures. Zero means time.Now().
	Now time.Time
	// Trusted, when non-nil, lists only certificates with a trusted local
	// identity that are currently valid.
	Trusted DigestSet
	// UDID, when set, adds whether that device is provisioned
	UDID string
}

func (o DescribeOptions) format(t time.Time) string {
	layout := o.TimeLayout
	if layout == "" {
		layout = "2006-01-02 15:04:05"
	}
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}

func (o DescribeOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// ExpiresInDays returns whole days between now and t, negative when t has passed
func ExpiresInDays(t, now time.Time) int {
	return int(t.Sub(now).Hours() / 24)
}

// Describe writes a human readable summary of a profile
func Describe(w io.Writer, p *Profile, opts DescribeOptions) {
	now := opts.now()

	fmt.Fprintf(w, "Name:           %s\n", p.Name)
	if appID, ok := p.ApplicationIdentifier(); ok {
		fmt.Fprintf(w, "App ID:         %s\n", appID)
	}
	fmt.Fprintf(w, "Wildcard:       %v\n", p.IsWildcard())
	if p.AppIDName != "" {
		fmt.Fprintf(w, "App ID Name:    %s\n", p.AppIDName)
	}
	fmt.Fprintf(w, "Method:         %s\n", p.Method())
	fmt.Fprintf(w, "Team ID:        %s\n", p.TeamID())
	fmt.Fprintf(w, "Team Name:      %s\n", p.TeamName)
	fmt.Fprintf(w, "UUID:           %s\n", p.UUID)
	fmt.Fprintf(w, "Platform:       %v\n", p.Platform)
	fmt.Fprintf(w, "Created:        %s\n", opts.format(p.CreationDate))
	fmt.Fprintf(w, "Expiration:     %s (expires in %d days)\n", opts.format(p.ExpirationDate), ExpiresInDays(p.ExpirationDate, now))
	fmt.Fprintf(w, "Expired:        %v\n", p.IsExpired(now))
	if p.Entitlements.GetTaskAllow != nil {
		fmt.Fprintf(w, "Get Task Allow: %v\n", *p.Entitlements.GetTaskAllow)
	}
	if p.Entitlements.PushEnvironment != PushUnset {
		fmt.Fprintf(w, "Push:           %s\n", p.Entitlements.PushEnvironment)
	}
	fmt.Fprintf(w, "Xcode Managed:  %v\n", p.IsXcodeManaged)
	if p.ProvisionedDevices != nil {
		fmt.Fprintf(w, "Devices:        %d included\n", len(p.ProvisionedDevices))
	}
	if opts.UDID != "" {
		fmt.Fprintf(w, "Device %s: %v\n", opts.UDID, p.ContainsDevice(opts.UDID))
	}
	if p.ProvisionsAllDevices != nil {
		fmt.Fprintf(w, "All Devices:    %v\n", *p.ProvisionsAllDevices)
	}
	fmt.Fprintf(w, "Time To Live:   %d\n", p.TimeToLive)
	fmt.Fprintf(w, "Version:        %d\n", p.Version)

	var certs []Certificate
	if opts.Trusted != nil {
		certs = ValidSigningCertificates(p, opts.Trusted, now)
		fmt.Fprintf(w, "Valid Certificates: %d\n", len(certs))
	} else {
		certs = ExtractCertificates(p)
		fmt.Fprintf(w, "Certificates:   %d\n", len(certs))
	}
	for i, cert := range certs {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, cert.CommonName())
		fmt.Fprintf(w, "      Serial: %s\n", cert.SerialNumber)
		fmt.Fprintf(w, "      SHA-1: %s\n", cert.Digest)
		fmt.Fprintf(w, "      Not Before: %s\n", opts.format(cert.NotBefore))
		fmt.Fprintf(w, "      Not After: %s (expires in %d days)\n", opts.format(cert.NotAfter), ExpiresInDays(cert.NotAfter, now))
	}

	if len(p.Entitlements.Raw) > 0 {
		fmt.Fprintln(w, "Entitlements:")
		keys := make([]string, 0, len(p.Entitlements.Raw))
		for k := range p.Entitlements.Raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, p.Entitlements.Raw[k])
		}
	}
}
