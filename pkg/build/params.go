package build

import (
	"fmt"
	"time"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/aluedeke/go-ipabuild/pkg/xcodeproj"
)

// Params is everything the archive and export phases need. It is resolved
// once per build and passed by value afterwards.
type Params struct {
	BundleID        string
	Scheme          string
	Method          provisioning.DistributionMethod
	TeamID          string
	Configuration   xcodeproj.Configuration
	ProfileUUID     string
	CertificateName string
	Platform        provisioning.Platform

	// Optional, empty when the target does not set them
	MarketingVersion string
	ProjectVersion   string
}

// ArchiveName returns <scheme>[-<marketing>[[<project>]]]-<unix>.xcarchive
func (p Params) ArchiveName(now time.Time) string {
	name := p.Scheme
	if p.MarketingVersion != "" {
		name += "-" + p.MarketingVersion
		if p.ProjectVersion != "" {
			name += "[" + p.ProjectVersion + "]"
		}
	}
	return fmt.Sprintf("%s-%d.xcarchive", name, now.Unix())
}
