package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/aluedeke/go-ipabuild/pkg/xcodeproj"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ProjectModel is the view of an Xcode project the build needs
type ProjectModel interface {
	SchemeNames() []string
	Scheme(name string) (xcodeproj.Scheme, bool)
	ArchivableTarget(s xcodeproj.Scheme) (xcodeproj.Target, bool)
	BuildSetting(t xcodeproj.Target, c xcodeproj.Configuration, key string) (string, bool)
	// Workspace returns the .xcworkspace to build through, or ""
	Workspace() string
}

// TrustedIdentityStore lists digests of certificates with a local private key
type TrustedIdentityStore interface {
	TrustedDigests(ctx context.Context) (provisioning.DigestSet, error)
}

// ToolchainRunner runs a command line, calling line for every output line.
// A non-nil error means the command did not exit successfully.
type ToolchainRunner interface {
	Run(ctx context.Context, command string, line func(string)) error
}

// ExportConfigWriter persists export options to path
type ExportConfigWriter interface {
	Write(opts ExportOptions, path string) error
}

// ArtifactUploader ships an exported artifact somewhere
type ArtifactUploader interface {
	Upload(ctx context.Context, path string) error
}

// State is a step of the build pipeline
type State int

const (
	Idle State = iota
	ParamsResolved
	Archived
	ExportPlistWritten
	Exported
	Done
	Failed
)

var stateNames = [...]string{"Idle", "ParamsResolved", "Archived", "ExportPlistWritten", "Exported", "Done", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(?)"
}

// Request names what to build
type Request struct {
	Scheme        string
	Method        provisioning.DistributionMethod
	Configuration xcodeproj.Configuration
	Platform      provisioning.Platform
}

// Result collects the paths produced by a successful build
type Result struct {
	Params          Params
	ArchivePath     string
	ExportPlistPath string
	ExportPath      string
	Artifact        string
	Verification    *VerifyReport
}

// Orchestrator drives one build: resolve, archive, write export options,
// export. Each phase runs at most once and a failed phase ends the build.
// An Orchestrator is single use.
type Orchestrator struct {
	Project  ProjectModel
	Profiles []*provisioning.Profile
	Trusted  TrustedIdentityStore
	Runner   ToolchainRunner
	Writer   ExportConfigWriter
	// Uploader is optional. Upload errors are logged only.
	Uploader ArtifactUploader

	// BuildDir receives the archive, export options and exported artifact
	BuildDir string
	// Verify checks the signature of the exported artifact. Mismatches are
	// logged and reported but do not fail the build.
	Verify bool

	Now    func() time.Time
	Logger logrus.FieldLogger

	state    State
	failedAs ErrorKind
}

// State returns the current pipeline state
func (o *Orchestrator) State() State {
	return o.state
}

// FailedKind returns the failure kind once State is Failed
func (o *Orchestrator) FailedKind() ErrorKind {
	return o.failedAs
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) log() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

func (o *Orchestrator) fail(err *Error) error {
	o.state = Failed
	o.failedAs = err.Kind
	o.log().WithField("kind", err.Kind).WithError(err).Error("build failed")
	return err
}

func (o *Orchestrator) advance(from, to State) error {
	if o.state != from {
		return errors.Errorf("cannot move to %s from %s", to, o.state)
	}
	o.state = to
	o.log().WithField("state", to).Debug("build state changed")
	return nil
}

// Resolve looks up the scheme, target, bundle identifier, profile, team and
// certificate for req and moves the orchestrator to ParamsResolved.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (Params, error) {
	if o.state != Idle {
		return Params{}, errors.Errorf("cannot resolve from %s", o.state)
	}
	if req.Configuration == "" {
		req.Configuration = xcodeproj.Release
	}
	if req.Platform == "" {
		req.Platform = provisioning.PlatformIOS
	}

	scheme, ok := o.Project.Scheme(req.Scheme)
	if !ok {
		return Params{}, o.fail(&Error{Kind: SchemeNotFound, Name: req.Scheme, Alternatives: o.Project.SchemeNames()})
	}

	target, ok := o.Project.ArchivableTarget(scheme)
	if !ok {
		var names []string
		for _, e := range scheme.Entries {
			names = append(names, e.Reference.BlueprintName)
		}
		return Params{}, o.fail(&Error{Kind: TargetNotFound, Name: scheme.Name, Alternatives: names})
	}

	bundleID, _ := o.Project.BuildSetting(target, req.Configuration, xcodeproj.KeyBundleIdentifier)
	if bundleID = strings.TrimSpace(bundleID); bundleID == "" {
		return Params{}, o.fail(&Error{Kind: BundleIdNotFound, Name: target.Name})
	}

	log := o.log().WithFields(logrus.Fields{"scheme": scheme.Name, "target": target.Name, "bundle_id": bundleID})

	profile, err := provisioning.FindBestProfile(o.Profiles, bundleID, req.Method, req.Platform)
	if err != nil {
		return Params{}, o.fail(&Error{Kind: ProfileNotFound, Name: bundleID, Err: err})
	}
	log = log.WithField("uuid", profile.UUID)
	if profile.IsExpired(o.now()) {
		log.WithField("expired", profile.ExpirationDate).Warn("best matching provisioning profile has expired")
	}

	teamID := profile.TeamID()
	if teamID == "" {
		return Params{}, o.fail(&Error{Kind: TeamIdMissing, Name: profile.Name})
	}

	trusted, err := o.Trusted.TrustedDigests(ctx)
	if err != nil {
		return Params{}, o.fail(&Error{Kind: CertificateNotFound, Name: profile.Name, Err: err})
	}
	certs := provisioning.ValidSigningCertificates(profile, trusted, o.now())
	if len(certs) == 0 || certs[0].CommonName() == "" {
		return Params{}, o.fail(&Error{Kind: CertificateNotFound, Name: profile.Name})
	}

	params := Params{
		BundleID:        bundleID,
		Scheme:          scheme.Name,
		Method:          req.Method,
		TeamID:          teamID,
		Configuration:   req.Configuration,
		ProfileUUID:     profile.UUID,
		CertificateName: certs[0].CommonName(),
		Platform:        req.Platform,
	}
	params.MarketingVersion, _ = o.Project.BuildSetting(target, req.Configuration, xcodeproj.KeyMarketingVersion)
	params.ProjectVersion, _ = o.Project.BuildSetting(target, req.Configuration, xcodeproj.KeyProjectVersion)

	log.WithFields(logrus.Fields{
		"team_id":     teamID,
		"certificate": params.CertificateName,
		"expires":     profile.ExpirationDate,
	}).Info("resolved signing credentials")

	return params, o.advance(Idle, ParamsResolved)
}

// runPhase runs command and reports whether it succeeded: the runner
// returned no error, success was printed and failure was not.
func (o *Orchestrator) runPhase(ctx context.Context, phase, command, succeeded, failed string) (bool, error) {
	log := o.log().WithField("phase", phase)
	log.WithField("command", command).Info("running xcodebuild")

	var sawSuccess, sawFailure bool
	err := o.Runner.Run(ctx, command, func(line string) {
		log.Debug(line)
		switch {
		case strings.Contains(line, succeeded):
			sawSuccess = true
		case strings.Contains(line, failed):
			sawFailure = true
		}
	})
	return err == nil && sawSuccess && !sawFailure, err
}

// Archive runs xcodebuild archive into BuildDir and returns the archive path
func (o *Orchestrator) Archive(ctx context.Context, p Params) (string, error) {
	if o.state != ParamsResolved {
		return "", errors.Errorf("cannot archive from %s", o.state)
	}
	if err := os.MkdirAll(o.BuildDir, 0755); err != nil {
		return "", o.fail(&Error{Kind: ArchiveFailed, Path: o.BuildDir, Err: errors.Wrap(err, "failed to create build directory")})
	}

	archivePath := filepath.Join(o.BuildDir, p.ArchiveName(o.now()))
	command := ArchiveCommand(p, o.Project.Workspace(), archivePath)

	ok, err := o.runPhase(ctx, "archive", command, MarkerArchiveSucceeded, MarkerArchiveFailed)
	if !ok {
		return "", o.fail(&Error{Kind: ArchiveFailed, Command: command, Path: archivePath, Err: err})
	}
	if _, err := os.Stat(archivePath); err != nil {
		return "", o.fail(&Error{Kind: ArchiveFailed, Command: command, Path: archivePath, Err: errors.Wrap(err, "archive not found")})
	}

	o.log().WithField("path", archivePath).Info("archive succeeded")
	return archivePath, o.advance(ParamsResolved, Archived)
}

// WriteExportOptions writes BuildDir/exportOptions.plist
func (o *Orchestrator) WriteExportOptions(p Params) (string, error) {
	if o.state != Archived {
		return "", errors.Errorf("cannot write export options from %s", o.state)
	}
	path := filepath.Join(o.BuildDir, ExportOptionsFile)

	if err := o.Writer.Write(NewExportOptions(p), path); err != nil {
		return "", o.fail(&Error{Kind: ExportPlistWriteFailed, Path: path, Err: err})
	}
	if _, err := os.Stat(path); err != nil {
		return "", o.fail(&Error{Kind: ExportPlistWriteFailed, Path: path, Err: err})
	}

	o.log().WithField("path", path).Info("export options written")
	return path, o.advance(Archived, ExportPlistWritten)
}

// Export runs xcodebuild -exportArchive and returns the exported artifact
func (o *Orchestrator) Export(ctx context.Context, archivePath, plistPath string) (exportPath, artifact string, err error) {
	if o.state != ExportPlistWritten {
		return "", "", errors.Errorf("cannot export from %s", o.state)
	}
	exportPath = strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
	command := ExportCommand(archivePath, exportPath, plistPath)

	ok, err := o.runPhase(ctx, "export", command, MarkerExportSucceeded, MarkerExportFailed)
	if !ok {
		return "", "", o.fail(&Error{Kind: ExportFailed, Command: command, Path: exportPath, Err: err})
	}
	artifact, err = findArtifact(exportPath)
	if err != nil {
		return "", "", o.fail(&Error{Kind: ExportFailed, Command: command, Path: exportPath, Err: err})
	}

	o.log().WithField("path", artifact).Info("export succeeded")
	return exportPath, artifact, o.advance(ExportPlistWritten, Exported)
}

var artifactExts = map[string]bool{".ipa": true, ".pkg": true, ".app": true}

func findArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "export directory not found")
	}
	for _, e := range entries {
		if artifactExts[strings.ToLower(filepath.Ext(e.Name()))] {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.Errorf("no .ipa, .pkg or .app in %s", dir)
}

// finish runs the optional upload and verification steps and moves to Done
func (o *Orchestrator) finish(ctx context.Context, res *Result) error {
	log := o.log().WithField("path", res.Artifact)

	if o.Verify {
		report, err := VerifyArtifact(res.Artifact, res.Params)
		switch {
		case err != nil:
			log.WithError(err).Warn("could not verify exported artifact")
		case !report.OK():
			for _, m := range report.Mismatches {
				log.Warn(m)
			}
		default:
			log.WithField("signer", report.SignerCN).Info("exported artifact signature verified")
		}
		res.Verification = report
	}

	if o.Uploader != nil {
		if err := o.Uploader.Upload(ctx, res.Artifact); err != nil {
			log.WithError(err).Error("upload failed")
		}
	}
	return o.advance(Exported, Done)
}

// Run executes the whole pipeline
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	params, err := o.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Params: params}

	if res.ArchivePath, err = o.Archive(ctx, params); err != nil {
		return nil, err
	}
	if res.ExportPlistPath, err = o.WriteExportOptions(params); err != nil {
		return nil, err
	}
	if res.ExportPath, res.Artifact, err = o.Export(ctx, res.ArchivePath, res.ExportPlistPath); err != nil {
		return nil, err
	}
	if err := o.finish(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}
