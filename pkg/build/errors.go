package build

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a build stopped
type ErrorKind int

const (
	SchemeNotFound ErrorKind = iota + 1
	TargetNotFound
	BundleIdNotFound
	ProfileNotFound
	TeamIdMissing
	CertificateNotFound
	ArchiveFailed
	ExportPlistWriteFailed
	ExportFailed
)

var kindNames = map[ErrorKind]string{
	SchemeNotFound:         "SchemeNotFound",
	TargetNotFound:         "TargetNotFound",
	BundleIdNotFound:       "BundleIdNotFound",
	ProfileNotFound:        "ProfileNotFound",
	TeamIdMissing:          "TeamIdMissing",
	CertificateNotFound:    "CertificateNotFound",
	ArchiveFailed:          "ArchiveFailed",
	ExportPlistWriteFailed: "ExportPlistWriteFailed",
	ExportFailed:           "ExportFailed",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a fatal build failure. Name is the scheme, target, bundle id or
// profile the failed lookup was about. Command is set for toolchain
// failures and carries the command line verbatim.
type Error struct {
	Kind         ErrorKind
	Name         string
	Alternatives []string
	Command      string
	Path         string
	Err          error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case SchemeNotFound:
		msg = fmt.Sprintf("scheme %q cannot be found, ensure the 'Shared' box is checked for it", e.Name)
		if len(e.Alternatives) > 0 {
			msg += fmt.Sprintf(", or choose one of the schemes: %s", strings.Join(e.Alternatives, ", "))
		}
	case TargetNotFound:
		msg = fmt.Sprintf("no target in scheme %q is built for archiving, ensure the 'Archive' box is checked", e.Name)
		if len(e.Alternatives) > 0 {
			msg += fmt.Sprintf(" for one of: %s", strings.Join(e.Alternatives, ", "))
		}
	case BundleIdNotFound:
		msg = fmt.Sprintf("bundle identifier cannot be found in target %q", e.Name)
	case ProfileNotFound:
		msg = fmt.Sprintf("no valid provisioning profile for bundle identifier %q", e.Name)
	case TeamIdMissing:
		msg = fmt.Sprintf("provisioning profile %q has no team identifier", e.Name)
	case CertificateNotFound:
		msg = fmt.Sprintf("no valid signing certificate for provisioning profile %q", e.Name)
	case ArchiveFailed, ExportFailed:
		msg = fmt.Sprintf("failed to execute command: %s", e.Command)
	case ExportPlistWriteFailed:
		msg = fmt.Sprintf("failed to write export options to %s", e.Path)
	default:
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
