package build

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/aluedeke/go-ipabuild/pkg/xcodeproj"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	testSerial int64
)

const (
	testCN   = "Apple Development: Jane Doe (ABCDE12345)"
	testUUID = "6F9619FF-8B86-D011-B42D-00C04FC964FF"
)

type fakeProject struct {
	schemes   []xcodeproj.Scheme
	targets   []xcodeproj.Target
	settings  map[string]string
	workspace string
}

func newFakeProject() *fakeProject {
	return &fakeProject{
		schemes: []xcodeproj.Scheme{{
			Name: "Example",
			Entries: []xcodeproj.BuildActionEntry{{
				BuildForArchiving: "YES",
				Reference:         xcodeproj.BuildableReference{BlueprintName: "Example"},
			}},
		}, {
			Name: "Widgets",
		}},
		targets: []xcodeproj.Target{{Name: "Example"}},
		settings: map[string]string{
			xcodeproj.KeyBundleIdentifier: "com.example.app",
			xcodeproj.KeyMarketingVersion: "1.2.0",
			xcodeproj.KeyProjectVersion:   "42",
		},
	}
}

func (p *fakeProject) SchemeNames() []string {
	var names []string
	for _, s := range p.schemes {
		names = append(names, s.Name)
	}
	return names
}

func (p *fakeProject) Scheme(name string) (xcodeproj.Scheme, bool) {
	for _, s := range p.schemes {
		if s.Name == name {
			return s, true
		}
	}
	return xcodeproj.Scheme{}, false
}

func (p *fakeProject) ArchivableTarget(s xcodeproj.Scheme) (xcodeproj.Target, bool) {
	for _, e := range s.Entries {
		for _, t := range p.targets {
			if e.ArchivesTarget() && t.Name == e.Reference.BlueprintName {
				return t, true
			}
		}
	}
	return xcodeproj.Target{}, false
}

func (p *fakeProject) BuildSetting(t xcodeproj.Target, c xcodeproj.Configuration, key string) (string, bool) {
	v, ok := p.settings[key]
	return v, ok
}

func (p *fakeProject) Workspace() string { return p.workspace }

// phase is one scripted toolchain invocation
type phase func(command string, line func(string)) error

type fakeRunner struct {
	phases   []phase
	commands []string
}

func (r *fakeRunner) Run(ctx context.Context, command string, line func(string)) error {
	r.commands = append(r.commands, command)
	i := len(r.commands) - 1
	if i >= len(r.phases) {
		return nil
	}
	return r.phases[i](command, line)
}

func printing(err error, lines ...string) phase {
	return func(_ string, line func(string)) error {
		for _, l := range lines {
			line(l)
		}
		return err
	}
}

func creating(path string, p phase) phase {
	return func(command string, line func(string)) error {
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
		return p(command, line)
	}
}

type fakeWriter struct {
	err   error
	calls int
	got   ExportOptions
}

func (w *fakeWriter) Write(opts ExportOptions, path string) error {
	w.calls++
	w.got = opts
	if w.err != nil {
		return w.err
	}
	return PlistExportWriter{}.Write(opts, path)
}

type fakeUploader struct {
	err   error
	paths []string
}

func (u *fakeUploader) Upload(ctx context.Context, path string) error {
	u.paths = append(u.paths, path)
	return u.err
}

func newCert(t *testing.T, cn string, notBefore, notAfter time.Time) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(atomic.AddInt64(&testSerial, 1)),
		Subject:      pkix.Name{CommonName: cn, OrganizationalUnit: []string{"ABCDE12345"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func newProfile(certs ...[]byte) *provisioning.Profile {
	allow := true
	return &provisioning.Profile{
		Name:                        "Example Development",
		UUID:                        testUUID,
		ApplicationIdentifierPrefix: []string{"ABCDE12345"},
		TeamIdentifier:              []string{"ABCDE12345"},
		ExpirationDate:              testNow.AddDate(1, 0, 0),
		Platform:                    []string{"iOS"},
		ProvisionedDevices:          []string{"00008030-000000000000001E"},
		DeveloperCertificates:       certs,
		Entitlements: provisioning.Entitlements{
			ApplicationIdentifier: "ABCDE12345.com.example.app",
			PushEnvironment:       provisioning.PushDevelopment,
			GetTaskAllow:          &allow,
		},
	}
}

type staticTrust struct {
	set provisioning.DigestSet
	err error
}

func (s staticTrust) TrustedDigests(context.Context) (provisioning.DigestSet, error) {
	return s.set, s.err
}

// fixture wires an orchestrator whose profile and certificate resolve
type fixture struct {
	o        *Orchestrator
	project  *fakeProject
	runner   *fakeRunner
	writer   *fakeWriter
	uploader *fakeUploader
	cert     []byte
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cert := newCert(t, testCN, testNow.AddDate(-1, 0, 0), testNow.AddDate(0, 6, 0))
	f := &fixture{
		project:  newFakeProject(),
		runner:   &fakeRunner{},
		writer:   &fakeWriter{},
		uploader: &fakeUploader{},
		cert:     cert,
		dir:      t.TempDir(),
	}
	f.o = &Orchestrator{
		Project:  f.project,
		Profiles: []*provisioning.Profile{newProfile(cert)},
		Trusted:  staticTrust{set: provisioning.NewDigestSet(provisioning.Digest(cert))},
		Runner:   f.runner,
		Writer:   f.writer,
		Uploader: f.uploader,
		BuildDir: f.dir,
		Now:      func() time.Time { return testNow },
	}
	return f
}

func (f *fixture) archivePath() string {
	return filepath.Join(f.dir, "Example-1.2.0[42]-1772359200.xcarchive")
}

func (f *fixture) exportPath() string {
	return filepath.Join(f.dir, "Example-1.2.0[42]-1772359200")
}

func devRequest() Request {
	return Request{
		Scheme:        "Example",
		Method:        provisioning.MethodDevelopment,
		Configuration: xcodeproj.Release,
		Platform:      provisioning.PlatformIOS,
	}
}
