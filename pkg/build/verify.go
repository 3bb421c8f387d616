package build

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// Code signature blob constants from Apple's cs_blobs.h
const (
	csMagicEmbeddedSignature = 0xfade0cc0
	csMagicCodeDirectory     = 0xfade0c02
	csSlotCodeDirectory      = 0
	csSlotCMSSignature       = 0x10000
	csSupportsTeamID         = 0x20200

	fatMagic = 0xcafebabe
)

// VerifyReport describes the signature found on an exported artifact
type VerifyReport struct {
	Artifact   string
	Executable string
	BundleID   string // CFBundleIdentifier from Info.plist
	CPU        string

	Identifier string // CodeDirectory identifier
	TeamID     string
	SignerCN   string

	Mismatches []string
}

// OK reports whether the signature agrees with the build parameters
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

type appBundle struct {
	info       map[string]interface{}
	executable string
	data       []byte
}

// VerifyArtifact reads the main executable of an exported .ipa or .app and
// compares its embedded code signature against p.
func VerifyArtifact(artifact string, p Params) (*VerifyReport, error) {
	var (
		app *appBundle
		err error
	)
	switch strings.ToLower(filepath.Ext(artifact)) {
	case ".ipa":
		app, err = readIPA(artifact)
	case ".app":
		app, err = readAppDir(artifact)
	default:
		return nil, errors.Errorf("cannot verify %s: only .ipa and .app are supported", filepath.Base(artifact))
	}
	if err != nil {
		return nil, err
	}

	sig, err := parseSignature(app.data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read code signature of %s", app.executable)
	}

	r := &VerifyReport{
		Artifact:   artifact,
		Executable: app.executable,
		CPU:        sig.cpu,
		Identifier: sig.identifier,
		TeamID:     sig.teamID,
		SignerCN:   sig.signerCN,
	}
	r.BundleID, _ = app.info["CFBundleIdentifier"].(string)

	check := func(what, got, want string) {
		if got != want {
			r.Mismatches = append(r.Mismatches, fmt.Sprintf("%s is %q, expected %q", what, got, want))
		}
	}
	check("Info.plist bundle identifier", r.BundleID, p.BundleID)
	check("signature identifier", r.Identifier, p.BundleID)
	check("signature team ID", r.TeamID, p.TeamID)
	check("signer", r.SignerCN, p.CertificateName)
	return r, nil
}

func parseInfo(data []byte) (map[string]interface{}, string, error) {
	var info map[string]interface{}
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, "", errors.Wrap(err, "failed to parse Info.plist")
	}
	exec, ok := info["CFBundleExecutable"].(string)
	if !ok || exec == "" {
		return nil, "", errors.New("CFBundleExecutable not found in Info.plist")
	}
	return info, exec, nil
}

func readAppDir(dir string) (*appBundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, "Info.plist"))
	if err != nil {
		// macOS bundles keep everything under Contents
		data, err = os.ReadFile(filepath.Join(dir, "Contents", "Info.plist"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to read Info.plist")
		}
		dir = filepath.Join(dir, "Contents", "MacOS")
	}
	info, exec, err := parseInfo(data)
	if err != nil {
		return nil, err
	}
	bin, err := os.ReadFile(filepath.Join(dir, exec))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read executable")
	}
	return &appBundle{info: info, executable: exec, data: bin}, nil
}

func readIPA(ipaPath string) (*appBundle, error) {
	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open IPA")
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	var appDir string
	for _, f := range r.File {
		files[f.Name] = f
		// Payload/<name>.app/Info.plist
		parts := strings.Split(f.Name, "/")
		if appDir == "" && len(parts) == 3 && parts[0] == "Payload" && strings.HasSuffix(parts[1], ".app") && parts[2] == "Info.plist" {
			appDir = path.Join(parts[0], parts[1])
		}
	}
	if appDir == "" {
		return nil, errors.New("no .app bundle found in Payload directory")
	}

	data, err := readZipFile(files[path.Join(appDir, "Info.plist")])
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Info.plist")
	}
	info, exec, err := parseInfo(data)
	if err != nil {
		return nil, err
	}
	f, ok := files[path.Join(appDir, exec)]
	if !ok {
		return nil, errors.Errorf("executable %s not found in %s", exec, appDir)
	}
	bin, err := readZipFile(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read executable")
	}
	return &appBundle{info: info, executable: exec, data: bin}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type signature struct {
	cpu        string
	identifier string
	teamID     string
	signerCN   string
}

// thinSlice returns the first architecture of a fat binary, or data itself
func thinSlice(data []byte) []byte {
	if len(data) >= 28 && binary.BigEndian.Uint32(data[:4]) == fatMagic {
		offset := binary.BigEndian.Uint32(data[16:20])
		size := binary.BigEndian.Uint32(data[20:24])
		if uint64(offset)+uint64(size) <= uint64(len(data)) {
			return data[offset : offset+size]
		}
	}
	return data
}

// findCodeSignature walks the load commands for LC_CODE_SIGNATURE without
// handing the signature itself to the Mach-O parser.
func findCodeSignature(data []byte) (offset, size uint32, found bool) {
	if len(data) < 32 {
		return 0, 0, false
	}

	var headerSize uint32
	switch types.Magic(binary.LittleEndian.Uint32(data[:4])) {
	case types.Magic64:
		headerSize = 32
	case types.Magic32:
		headerSize = 28
	default:
		return 0, 0, false
	}
	ncmds := binary.LittleEndian.Uint32(data[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(data[20:24])
	end := uint64(headerSize) + uint64(sizeofcmds)
	if uint64(len(data)) < end {
		return 0, 0, false
	}

	cmdOffset := uint64(headerSize)
	for i := uint32(0); i < ncmds && cmdOffset+8 <= end; i++ {
		cmd := binary.LittleEndian.Uint32(data[cmdOffset:])
		cmdSize := binary.LittleEndian.Uint32(data[cmdOffset+4:])
		if types.LoadCmd(cmd) == types.LC_CODE_SIGNATURE && cmdSize >= 16 {
			return binary.LittleEndian.Uint32(data[cmdOffset+8:]), binary.LittleEndian.Uint32(data[cmdOffset+12:]), true
		}
		if cmdSize == 0 {
			break
		}
		cmdOffset += uint64(cmdSize)
	}
	return 0, 0, false
}

func parseSignature(data []byte) (*signature, error) {
	data = thinSlice(data)

	sigOffset, sigSize, found := findCodeSignature(data)
	if !found {
		return nil, errors.New("no code signature found")
	}
	if uint64(sigOffset)+uint64(sigSize) > uint64(len(data)) {
		return nil, errors.New("code signature extends beyond file")
	}
	sigData := data[sigOffset : sigOffset+sigSize]

	sig := &signature{cpu: machoCPU(data, sigOffset, sigSize)}

	if len(sigData) < 12 || binary.BigEndian.Uint32(sigData[0:4]) != csMagicEmbeddedSignature {
		return nil, errors.New("invalid SuperBlob")
	}
	count := binary.BigEndian.Uint32(sigData[8:12])
	if uint64(len(sigData)) < 12+uint64(count)*8 {
		return nil, errors.New("signature data too short for blob index")
	}

	for i := uint32(0); i < count; i++ {
		entry := 12 + i*8
		slot := binary.BigEndian.Uint32(sigData[entry:])
		off := binary.BigEndian.Uint32(sigData[entry+4:])
		if uint64(off)+8 > uint64(len(sigData)) {
			continue
		}
		blobSize := binary.BigEndian.Uint32(sigData[off+4:])
		if blobSize < 8 || uint64(off)+uint64(blobSize) > uint64(len(sigData)) {
			continue
		}
		blob := sigData[off : off+blobSize]

		switch slot {
		case csSlotCodeDirectory:
			sig.identifier, sig.teamID = parseCodeDirectory(blob)
		case csSlotCMSSignature:
			sig.signerCN = parseSigner(blob[8:])
		}
	}
	return sig, nil
}

func cString(data []byte, offset uint32) string {
	if offset == 0 || uint64(offset) >= uint64(len(data)) {
		return ""
	}
	s := data[offset:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

func parseCodeDirectory(blob []byte) (identifier, teamID string) {
	if len(blob) < 44 || binary.BigEndian.Uint32(blob[0:4]) != csMagicCodeDirectory {
		return "", ""
	}
	identifier = cString(blob, binary.BigEndian.Uint32(blob[20:24]))
	if binary.BigEndian.Uint32(blob[8:12]) >= csSupportsTeamID && len(blob) >= 52 {
		teamID = cString(blob, binary.BigEndian.Uint32(blob[48:52]))
	}
	return identifier, teamID
}

func parseSigner(cms []byte) string {
	p7, err := pkcs7.Parse(cms)
	if err != nil || len(p7.Signers) == 0 {
		return ""
	}
	serial := p7.Signers[0].IssuerAndSerialNumber.SerialNumber
	for _, cert := range p7.Certificates {
		if cert.SerialNumber.Cmp(serial) == 0 {
			return cert.Subject.CommonName
		}
	}
	return ""
}

// machoCPU parses the header with go-macho after blanking the signature,
// which the parser does not need and sometimes rejects.
func machoCPU(data []byte, sigOffset, sigSize uint32) (cpu string) {
	defer func() {
		if recover() != nil {
			cpu = ""
		}
	}()
	blank := make([]byte, len(data))
	copy(blank, data)
	for i := sigOffset; i < sigOffset+sigSize; i++ {
		blank[i] = 0
	}
	m, err := macho.NewFile(bytes.NewReader(blank))
	if err != nil {
		return ""
	}
	defer m.Close()
	return m.CPU.String()
}
