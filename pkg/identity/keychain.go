package identity

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"regexp"

	"github.com/aluedeke/go-ipabuild/pkg/provisioning"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CommandFunc runs an external program and returns its standard output
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Identity is one code signing identity listed by the keychain
type Identity struct {
	Digest string
	Name   string
}

// Keychain lists valid code signing identities through the security tool
type Keychain struct {
	// Keychains restricts the search. Empty means the user's search list.
	Keychains []string
	Command   CommandFunc
	Logger    logrus.FieldLogger
}

//	1) 0123456789ABCDEF0123456789ABCDEF01234567 "Apple Development: Jane Doe (ABCDE12345)"
var identityLine = regexp.MustCompile(`^\s*\d+\)\s+([0-9A-Fa-f]{40})\s+"(.*)"`)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %s", name, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// Identities returns every valid code signing identity in listing order
func (k *Keychain) Identities(ctx context.Context) ([]Identity, error) {
	run := k.Command
	if run == nil {
		run = execCommand
	}
	args := append([]string{"find-identity", "-p", "codesigning", "-v"}, k.Keychains...)

	out, err := run(ctx, "security", args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query keychain")
	}
	return parseIdentities(out), nil
}

func parseIdentities(out []byte) []Identity {
	var ids []Identity
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := identityLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		ids = append(ids, Identity{Digest: m[1], Name: m[2]})
	}
	return ids
}

// TrustedDigests implements the trusted identity lookup for the build
func (k *Keychain) TrustedDigests(ctx context.Context) (provisioning.DigestSet, error) {
	ids, err := k.Identities(ctx)
	if err != nil {
		return nil, err
	}
	set := provisioning.NewDigestSet()
	for _, id := range ids {
		set.Add(id.Digest)
	}

	log := k.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithField("identities", set.Len()).Debug("read keychain identities")
	return set, nil
}
