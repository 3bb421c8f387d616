package build

import (
	"regexp"
	"strings"
)

// Markers xcodebuild prints when a phase ends
const (
	MarkerArchiveSucceeded = "** ARCHIVE SUCCEEDED **"
	MarkerArchiveFailed    = "** ARCHIVE FAILED **"
	MarkerExportSucceeded  = "** EXPORT SUCCEEDED **"
	MarkerExportFailed     = "** EXPORT FAILED **"
)

var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote returns s unchanged when the shell would read it as one word,
// otherwise wrapped in single quotes.
func shellQuote(s string) string {
	if s != "" && safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func setting(key, value string) string {
	return key + "=" + shellQuote(value)
}

// ArchiveCommand builds the xcodebuild archive invocation. Signing is pinned
// to the resolved profile and identity so Xcode never picks its own.
func ArchiveCommand(p Params, workspace, archivePath string) string {
	args := []string{
		"xcodebuild", "archive",
		"-destination", "'generic/platform=" + string(p.Platform) + "'",
	}
	if workspace != "" {
		args = append(args, "-workspace", shellQuote(workspace))
	}
	args = append(args,
		"-scheme", shellQuote(p.Scheme),
		"-archivePath", shellQuote(archivePath),
		"-configuration", shellQuote(string(p.Configuration)),
		setting("CODE_SIGN_STYLE", "Manual"),
		setting("PROVISIONING_PROFILE", p.ProfileUUID),
		setting("PROVISIONING_PROFILE_SPECIFIER", p.ProfileUUID),
		setting("DEVELOPMENT_TEAM", p.TeamID),
		setting("CODE_SIGN_IDENTITY", p.CertificateName),
		"CODE_SIGNING_REQUIRED=YES",
		"CODE_SIGNING_ALLOWED=NO",
		"clean", "build",
	)
	return strings.Join(args, " ")
}

// ExportCommand builds the xcodebuild -exportArchive invocation
func ExportCommand(archivePath, exportPath, plistPath string) string {
	return strings.Join([]string{
		"xcodebuild", "-exportArchive",
		"-archivePath", shellQuote(archivePath),
		"-exportPath", shellQuote(exportPath),
		"-exportOptionsPlist", shellQuote(plistPath),
	}, " ")
}
