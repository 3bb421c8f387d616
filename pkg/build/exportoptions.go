package build

import (
	"os"
	"path/filepath"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/pkg/errors"
	"howett.net/plist"
)

// ExportOptionsFile is the name of the export configuration inside the build directory
const ExportOptionsFile = "exportOptions.plist"

// ExportOptions is the -exportOptionsPlist payload
type ExportOptions struct {
	Method               provisioning.DistributionMethod `plist:"method"`
	TeamID               string                          `plist:"teamID"`
	SigningStyle         string                          `plist:"signingStyle"`
	ProvisioningProfiles map[string]string               `plist:"provisioningProfiles"`
}

// NewExportOptions returns manual signing options mapping the bundle to its profile
func NewExportOptions(p Params) ExportOptions {
	return ExportOptions{
		Method:               p.Method,
		TeamID:               p.TeamID,
		SigningStyle:         "manual",
		ProvisioningProfiles: map[string]string{p.BundleID: p.ProfileUUID},
	}
}

// PlistExportWriter writes export options as an XML property list
type PlistExportWriter struct{}

func (PlistExportWriter) Write(opts ExportOptions, path string) error {
	data, err := plist.MarshalIndent(opts, plist.XMLFormat, "\t")
	if err != nil {
		return errors.Wrap(err, "failed to encode export options")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create export options directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write export options")
	}
	return nil
}
