package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/aluedeke/go-ipabuild/pkg/build"
	"github.com/aluedeke/go-ipabuild/pkg/identity"
	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/aluedeke/go-ipabuild/pkg/xcodeproj"
	"github.com/docopt/docopt-go"
	"github.com/micromdm/go4/env"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

const usage = `go-ipabuild - Archive and export Xcode projects with resolved signing credentials

Picks the provisioning profile and signing certificate for a scheme's bundle
identifier from the locally installed profiles, then runs xcodebuild archive
and xcodebuild -exportArchive with them.

Usage:
  go-ipabuild build --project=<path> --scheme=<name> [--method=<m>] [--configuration=<c>] [--platform=<p>] [--profiles=<dir>] [--p12=<path>] [--password=<password>] [--output=<dir>] [--verify] [--verbose]
  go-ipabuild match --bundleid=<id> [--method=<m>] [--platform=<p>] [--profiles=<dir>] [--p12=<path>] [--password=<password>] [--verbose]
  go-ipabuild profiles [--bundleid=<id>] [--method=<m>] [--platform=<p>] [--profiles=<dir>] [--verbose]
  go-ipabuild info --profile=<path> [--udid=<udid>] [--p12=<path>] [--password=<password>] [--verbose]
  go-ipabuild -h | --help
  go-ipabuild --version

Commands:
  build     Resolve signing credentials, archive the scheme and export it
  match     Show the profile and certificate a bundle identifier would be signed with
  profiles  List installed provisioning profiles
  info      Display information about a provisioning profile

Options:
  --project=<path>        Path to the .xcodeproj, or a directory containing one
  --scheme=<name>         Shared scheme to archive
  --bundleid=<id>         Bundle identifier to match profiles against
  --method=<m>            Distribution method: development, ad-hoc, enterprise or app-store [default: development]
  --configuration=<c>     Build configuration: Release or Debug [default: Release]
  --platform=<p>          Target platform: iOS, macOS, tvOS or watchOS [default: iOS]
  --profiles=<dir>        Directory of installed profiles (or IPABUILD_PROFILES_DIR env var)
  --profile=<path>        Path to a single provisioning profile
  --udid=<udid>           Report whether this device is provisioned by the profile
  --p12=<path>            Trust only the identity in this P12 file instead of the keychain (or IPABUILD_P12 env var)
  --password=<password>   Password for the P12 file (or IPABUILD_P12_PASSWORD env var)
  --output=<dir>          Build directory for archive and export (or IPABUILD_OUTPUT env var, defaults to <project dir>/ipabuild)
  --verify                Check the code signature of the exported artifact
  --verbose               Show xcodebuild output and debug logs (or IPABUILD_DEBUG=true)
  -h --help               Show this help message
  --version               Show version

Environment Variables:
  IPABUILD_PROFILES_DIR   Profile directory (overridden by --profiles)
  IPABUILD_P12            Path to P12 file (overridden by --p12)
  IPABUILD_P12_PASSWORD   P12 password (overridden by --password)
  IPABUILD_OUTPUT         Build directory (overridden by --output)
  IPABUILD_DEBUG          Enable debug logging

Examples:
  # Archive and export an ad-hoc build
  go-ipabuild build --project=MyApp.xcodeproj --scheme=MyApp --method=ad-hoc

  # Same, signing with a P12 instead of the login keychain (useful for CI/CD)
  export IPABUILD_P12=/path/to/cert.p12
  export IPABUILD_P12_PASSWORD=secret
  go-ipabuild build --project=. --scheme=MyApp --method=app-store --verify

  # Which profile would sign com.example.app for the App Store?
  go-ipabuild match --bundleid=com.example.app --method=app-store

  # List profiles usable for a bundle identifier
  go-ipabuild profiles --bundleid=com.example.app --method=ad-hoc

  # View provisioning profile information
  go-ipabuild info --profile=dev.mobileprovision

  # Check whether a device can install builds signed with a profile
  go-ipabuild info --profile=adhoc.mobileprovision --udid=00008030-001A2C3E0A42802E
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose, _ := opts.Bool("--verbose"); verbose || env.Bool("IPABUILD_DEBUG", false) {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var run func(context.Context, docopt.Opts) error
	if b, _ := opts.Bool("build"); b {
		run = runBuild
	} else if m, _ := opts.Bool("match"); m {
		run = runMatch
	} else if p, _ := opts.Bool("profiles"); p {
		run = runProfiles
	} else if i, _ := opts.Bool("info"); i {
		run = runInfo
	}
	if run == nil {
		return
	}
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// option returns a flag value, falling back to an environment variable
func option(opts docopt.Opts, flag, key string) string {
	if v, _ := opts.String(flag); v != "" {
		return v
	}
	return env.String(key, "")
}

func parseSelection(opts docopt.Opts) (provisioning.DistributionMethod, provisioning.Platform, error) {
	m, _ := opts.String("--method")
	method, err := provisioning.ParseMethod(m)
	if err != nil {
		return "", "", err
	}
	p, _ := opts.String("--platform")
	platform, err := provisioning.ParsePlatform(p)
	if err != nil {
		return "", "", err
	}
	return method, platform, nil
}

func trustStore(opts docopt.Opts) build.TrustedIdentityStore {
	if p12 := option(opts, "--p12", "IPABUILD_P12"); p12 != "" {
		return &identity.PKCS12Store{
			Paths:    []string{p12},
			Password: option(opts, "--password", "IPABUILD_P12_PASSWORD"),
		}
	}
	return &identity.Keychain{}
}

func loadProfiles(ctx context.Context, opts docopt.Opts) ([]*provisioning.Profile, error) {
	store := &provisioning.Store{Dir: option(opts, "--profiles", "IPABUILD_PROFILES_DIR")}
	profiles, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("count", len(profiles)).Debug("loaded provisioning profiles")
	return profiles, nil
}

func runBuild(ctx context.Context, opts docopt.Opts) error {
	projectPath, _ := opts.String("--project")
	scheme, _ := opts.String("--scheme")
	verify, _ := opts.Bool("--verify")

	method, platform, err := parseSelection(opts)
	if err != nil {
		return err
	}
	c, _ := opts.String("--configuration")
	config, err := xcodeproj.ParseConfiguration(c)
	if err != nil {
		return err
	}

	project, err := xcodeproj.Open(projectPath)
	if err != nil {
		return err
	}
	profiles, err := loadProfiles(ctx, opts)
	if err != nil {
		return err
	}

	buildDir := option(opts, "--output", "IPABUILD_OUTPUT")
	if buildDir == "" {
		buildDir = filepath.Join(project.Dir(), "ipabuild")
	}
	if buildDir, err = filepath.Abs(buildDir); err != nil {
		return errors.Wrap(err, "invalid output directory")
	}

	o := &build.Orchestrator{
		Project:  project,
		Profiles: profiles,
		Trusted:  trustStore(opts),
		Runner:   &build.ShellRunner{Dir: project.Dir()},
		Writer:   build.PlistExportWriter{},
		BuildDir: buildDir,
		Verify:   verify,
	}
	res, err := o.Run(ctx, build.Request{
		Scheme:        scheme,
		Method:        method,
		Configuration: config,
		Platform:      platform,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Bundle ID:      %s\n", res.Params.BundleID)
	fmt.Printf("Profile:        %s\n", res.Params.ProfileUUID)
	fmt.Printf("Team ID:        %s\n", res.Params.TeamID)
	fmt.Printf("Certificate:    %s\n", res.Params.CertificateName)
	fmt.Printf("Archive:        %s\n", res.ArchivePath)
	fmt.Printf("Artifact:       %s\n", res.Artifact)
	if r := res.Verification; r != nil {
		if r.OK() {
			fmt.Printf("Signature:      OK (%s, %s)\n", r.SignerCN, r.CPU)
		} else {
			fmt.Printf("Signature:      %d mismatches\n", len(r.Mismatches))
			for _, m := range r.Mismatches {
				fmt.Printf("  - %s\n", m)
			}
		}
	}
	return nil
}

func runMatch(ctx context.Context, opts docopt.Opts) error {
	bundleID, _ := opts.String("--bundleid")
	method, platform, err := parseSelection(opts)
	if err != nil {
		return err
	}
	profiles, err := loadProfiles(ctx, opts)
	if err != nil {
		return err
	}

	profile, err := provisioning.FindBestProfile(profiles, bundleID, method, platform)
	if err != nil {
		return err
	}
	trusted, err := trustStore(opts).TrustedDigests(ctx)
	if err != nil {
		return err
	}

	provisioning.Describe(os.Stdout, profile, provisioning.DescribeOptions{Location: time.Local, Trusted: trusted})
	certs := provisioning.ValidSigningCertificates(profile, trusted, time.Now())
	fmt.Println()
	if len(certs) == 0 {
		return errors.Errorf("no valid signing certificate for provisioning profile %q", profile.Name)
	}
	fmt.Printf("Signing Identity: %s\n", certs[0].CommonName())

	if p12 := option(opts, "--p12", "IPABUILD_P12"); p12 != "" {
		store := &identity.PKCS12Store{Paths: []string{p12}, Password: option(opts, "--password", "IPABUILD_P12_PASSWORD")}
		ids, err := store.Identities()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id.TeamID != "" && id.TeamID != profile.TeamID() {
				log.WithFields(log.Fields{"p12": p12, "p12_team": id.TeamID, "profile_team": profile.TeamID()}).
					Warn("P12 identity belongs to a different team than the profile")
			}
		}
	}
	return nil
}

func runProfiles(ctx context.Context, opts docopt.Opts) error {
	profiles, err := loadProfiles(ctx, opts)
	if err != nil {
		return err
	}
	if bundleID, _ := opts.String("--bundleid"); bundleID != "" {
		method, platform, err := parseSelection(opts)
		if err != nil {
			return err
		}
		profiles = provisioning.Candidates(profiles, bundleID, method, platform)
	}

	now := time.Now()
	for _, p := range profiles {
		appID, _ := p.ApplicationIdentifier()
		status := fmt.Sprintf("expires in %d days", provisioning.ExpiresInDays(p.ExpirationDate, now))
		if p.IsExpired(now) {
			status = "expired"
		}
		fmt.Printf("%s  %-11s  %-40s  %s (%s)\n", p.UUID, p.Method(), appID, p.Name, status)
	}
	return nil
}

func runInfo(ctx context.Context, opts docopt.Opts) error {
	profilePath, _ := opts.String("--profile")
	profile, err := provisioning.LoadFile(profilePath)
	if err != nil {
		return err
	}

	udid, _ := opts.String("--udid")
	describe := provisioning.DescribeOptions{Location: time.Local, UDID: udid}
	if option(opts, "--p12", "IPABUILD_P12") != "" {
		if describe.Trusted, err = trustStore(opts).TrustedDigests(ctx); err != nil {
			return err
		}
	}

	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("File:           %s\n", profilePath)
	provisioning.Describe(os.Stdout, profile, describe)
	return nil
}
