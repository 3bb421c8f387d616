package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func succeedingPhases(f *fixture) []phase {
	return []phase{
		creating(f.archivePath(), printing(nil, "Signing Example.app", MarkerArchiveSucceeded)),
		creating(filepath.Join(f.exportPath(), "Example.ipa"), printing(nil, MarkerExportSucceeded)),
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	f.runner.phases = succeedingPhases(f)

	res, err := f.o.Run(context.Background(), devRequest())
	require.NoError(t, err)

	assert.Equal(t, Done, f.o.State())
	assert.Equal(t, Params{
		BundleID:         "com.example.app",
		Scheme:           "Example",
		Method:           provisioning.MethodDevelopment,
		TeamID:           "ABCDE12345",
		Configuration:    "Release",
		ProfileUUID:      testUUID,
		CertificateName:  testCN,
		Platform:         provisioning.PlatformIOS,
		MarketingVersion: "1.2.0",
		ProjectVersion:   "42",
	}, res.Params)
	assert.Equal(t, f.archivePath(), res.ArchivePath)
	assert.Equal(t, filepath.Join(f.dir, ExportOptionsFile), res.ExportPlistPath)
	assert.Equal(t, filepath.Join(f.exportPath(), "Example.ipa"), res.Artifact)
	assert.Nil(t, res.Verification)

	require.Len(t, f.runner.commands, 2)
	assert.Equal(t, ExportCommand(f.archivePath(), f.exportPath(), res.ExportPlistPath), f.runner.commands[1])
	assert.Equal(t, []string{res.Artifact}, f.uploader.paths)

	var written map[string]interface{}
	data, err := os.ReadFile(res.ExportPlistPath)
	require.NoError(t, err)
	_, err = plist.Unmarshal(data, &written)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"method":               "development",
		"teamID":               "ABCDE12345",
		"signingStyle":         "manual",
		"provisioningProfiles": map[string]interface{}{"com.example.app": testUUID},
	}, written)
}

func TestRun_SingleUse(t *testing.T) {
	f := newFixture(t)
	f.runner.phases = succeedingPhases(f)

	_, err := f.o.Run(context.Background(), devRequest())
	require.NoError(t, err)

	_, err = f.o.Run(context.Background(), devRequest())
	assert.Error(t, err)
	assert.Len(t, f.runner.commands, 2)
}

func TestRun_UploadFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.runner.phases = succeedingPhases(f)
	f.uploader.err = errors.New("connection refused")
	logger, hook := test.NewNullLogger()
	f.o.Logger = logger

	_, err := f.o.Run(context.Background(), devRequest())
	require.NoError(t, err)
	assert.Equal(t, Done, f.o.State())

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "upload failed" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, req *Request)
		kind  ErrorKind
		msg   string
	}{
		{
			name:  "unknown scheme",
			setup: func(f *fixture, req *Request) { req.Scheme = "Missing" },
			kind:  SchemeNotFound,
			msg:   "choose one of the schemes: Example, Widgets",
		},
		{
			name:  "scheme without archivable target",
			setup: func(f *fixture, req *Request) { req.Scheme = "Widgets" },
			kind:  TargetNotFound,
			msg:   `scheme "Widgets"`,
		},
		{
			name: "no bundle identifier",
			setup: func(f *fixture, req *Request) {
				delete(f.project.settings, "PRODUCT_BUNDLE_IDENTIFIER")
			},
			kind: BundleIdNotFound,
			msg:  `target "Example"`,
		},
		{
			name:  "no profile for method",
			setup: func(f *fixture, req *Request) { req.Method = provisioning.MethodAppStore },
			kind:  ProfileNotFound,
			msg:   `"com.example.app"`,
		},
		{
			name:  "no profile for platform",
			setup: func(f *fixture, req *Request) { req.Platform = provisioning.PlatformTvOS },
			kind:  ProfileNotFound,
		},
		{
			name:  "profile without team",
			setup: func(f *fixture, req *Request) { f.o.Profiles[0].TeamIdentifier = []string{} },
			kind:  TeamIdMissing,
		},
		{
			name: "certificate not trusted",
			setup: func(f *fixture, req *Request) {
				f.o.Trusted = staticTrust{set: provisioning.NewDigestSet("0000000000000000000000000000000000000000")}
			},
			kind: CertificateNotFound,
		},
		{
			name: "certificate expired",
			setup: func(f *fixture, req *Request) {
				f.o.Now = func() time.Time { return testNow.AddDate(0, 7, 0) }
			},
			kind: CertificateNotFound,
		},
		{
			name: "identity store unavailable",
			setup: func(f *fixture, req *Request) {
				f.o.Trusted = staticTrust{err: errors.New("keychain locked")}
			},
			kind: CertificateNotFound,
			msg:  "keychain locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.phases = succeedingPhases(f)
			req := devRequest()
			tt.setup(f, &req)

			_, err := f.o.Run(context.Background(), req)
			require.Error(t, err)

			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)

			assert.Equal(t, Failed, f.o.State())
			assert.Equal(t, tt.kind, f.o.FailedKind())
			assert.Empty(t, f.runner.commands)
			assert.Zero(t, f.writer.calls)
		})
	}
}

func TestResolve_PicksLatestProfile(t *testing.T) {
	f := newFixture(t)
	older := f.o.Profiles[0]
	newer := newProfile(f.cert)
	newer.UUID = "11111111-2222-3333-4444-555555555555"
	newer.ExpirationDate = older.ExpirationDate.AddDate(0, 6, 0)
	newer.Entitlements.ApplicationIdentifier = "ABCDE12345.com.example.*"
	f.o.Profiles = append(f.o.Profiles, newer)

	params, err := f.o.Resolve(context.Background(), devRequest())
	require.NoError(t, err)
	assert.Equal(t, newer.UUID, params.ProfileUUID)
	assert.Equal(t, ParamsResolved, f.o.State())
}

func TestResolve_WarnsOnExpiredProfile(t *testing.T) {
	f := newFixture(t)
	f.o.Profiles[0].ExpirationDate = testNow.AddDate(0, 0, -1)
	logger, hook := test.NewNullLogger()
	f.o.Logger = logger

	params, err := f.o.Resolve(context.Background(), devRequest())
	require.NoError(t, err)
	assert.Equal(t, testUUID, params.ProfileUUID)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "best matching provisioning profile has expired" {
			warned = true
			assert.Equal(t, testUUID, e.Data["uuid"])
		}
	}
	assert.True(t, warned)
}

func TestResolve_Defaults(t *testing.T) {
	f := newFixture(t)

	params, err := f.o.Resolve(context.Background(), Request{Scheme: "Example", Method: provisioning.MethodDevelopment})
	require.NoError(t, err)
	assert.Equal(t, "Release", string(params.Configuration))
	assert.Equal(t, provisioning.PlatformIOS, params.Platform)
}

func TestArchive_SuccessDetection(t *testing.T) {
	tests := []struct {
		name     string
		phase    func(f *fixture) phase
		wantOK   bool
		contains string
	}{
		{
			name: "marker and archive",
			phase: func(f *fixture) phase {
				return creating(f.archivePath(), printing(nil, MarkerArchiveSucceeded))
			},
			wantOK: true,
		},
		{
			name: "archive without marker",
			phase: func(f *fixture) phase {
				return creating(f.archivePath(), printing(nil, "Build complete"))
			},
		},
		{
			name: "marker without archive",
			phase: func(f *fixture) phase {
				return printing(nil, MarkerArchiveSucceeded)
			},
			contains: "archive not found",
		},
		{
			name: "failure marker",
			phase: func(f *fixture) phase {
				return creating(f.archivePath(), printing(nil, MarkerArchiveSucceeded, MarkerArchiveFailed))
			},
		},
		{
			name: "non-zero exit",
			phase: func(f *fixture) phase {
				return creating(f.archivePath(), printing(errors.New("exit status 65"), MarkerArchiveSucceeded))
			},
			contains: "exit status 65",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.phases = []phase{tt.phase(f)}

			params, err := f.o.Resolve(context.Background(), devRequest())
			require.NoError(t, err)

			path, err := f.o.Archive(context.Background(), params)
			assert.Len(t, f.runner.commands, 1)
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, f.archivePath(), path)
				assert.Equal(t, Archived, f.o.State())
				return
			}

			require.Error(t, err)
			assert.Equal(t, ArchiveFailed, KindOf(err))
			assert.Contains(t, err.Error(), f.runner.commands[0])
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, Failed, f.o.State())

			_, err = f.o.WriteExportOptions(params)
			assert.Error(t, err)
			assert.Zero(t, f.writer.calls)
		})
	}
}

func TestRun_ArchiveFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.runner.phases = []phase{printing(nil, MarkerArchiveFailed)}

	_, err := f.o.Run(context.Background(), devRequest())
	assert.Equal(t, ArchiveFailed, KindOf(err))
	assert.Len(t, f.runner.commands, 1)
	assert.Zero(t, f.writer.calls)
	assert.Empty(t, f.uploader.paths)
}

func TestRun_ExportPlistWriteFailed(t *testing.T) {
	f := newFixture(t)
	f.runner.phases = succeedingPhases(f)
	f.writer.err = errors.New("disk full")

	_, err := f.o.Run(context.Background(), devRequest())
	assert.Equal(t, ExportPlistWriteFailed, KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), ExportOptionsFile)
	assert.Len(t, f.runner.commands, 1)
	assert.Equal(t, Failed, f.o.State())
}

func TestRun_ExportFailed(t *testing.T) {
	tests := []struct {
		name  string
		phase func(f *fixture) phase
	}{
		{"failure marker", func(f *fixture) phase {
			return creating(filepath.Join(f.exportPath(), "Example.ipa"), printing(nil, MarkerExportFailed))
		}},
		{"no artifact", func(f *fixture) phase {
			return creating(filepath.Join(f.exportPath(), "DistributionSummary"), printing(nil, MarkerExportSucceeded))
		}},
		{"no export directory", func(f *fixture) phase {
			return printing(nil, MarkerExportSucceeded)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.phases = []phase{succeedingPhases(f)[0], tt.phase(f)}

			_, err := f.o.Run(context.Background(), devRequest())
			assert.Equal(t, ExportFailed, KindOf(err))
			assert.Len(t, f.runner.commands, 2)
			assert.Contains(t, err.Error(), "-exportArchive")
			assert.Equal(t, Failed, f.o.State())
			assert.Empty(t, f.uploader.paths)
		})
	}
}

func TestOrchestrator_PhaseOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.o.Archive(context.Background(), Params{})
	assert.Error(t, err)
	_, _, err = f.o.Export(context.Background(), "a", "b")
	assert.Error(t, err)
	assert.Equal(t, Idle, f.o.State())
	assert.Empty(t, f.runner.commands)
}
