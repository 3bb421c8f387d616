package provisioning

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/micromdm/go4/env"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RawProfile is the undecoded content of one file found by the store
type RawProfile struct {
	Path string
	Data []byte
}

// Store enumerates provisioning profiles installed under a directory
type Store struct {
	// Dir is the search root. Empty means DefaultDir().
	Dir string
	// Concurrency bounds parallel decoding in Load. Zero means GOMAXPROCS.
	Concurrency int
	Logger      logrus.FieldLogger
}

// DefaultDir returns the directory Xcode installs profiles into, unless
// IPABUILD_PROFILES_DIR overrides it.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return env.String("IPABUILD_PROFILES_DIR", filepath.Join(home, "Library", "MobileDevice", "Provisioning Profiles"))
}

func (s *Store) dir() string {
	if s.Dir != "" {
		return s.Dir
	}
	return DefaultDir()
}

func (s *Store) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

// Walk hands every regular file under the search root to fn, in lexical
// order, reading each file only when it is reached. Unreadable files are
// logged and skipped. An error returned by fn stops the walk.
func (s *Store) Walk(fn func(RawProfile) error) error {
	root := s.dir()
	log := s.logger()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return errors.Wrapf(err, "failed to read profile directory %s", root)
			}
			log.WithError(err).WithField("path", path).Warn("skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("skipping unreadable profile")
			return nil
		}
		return fn(RawProfile{Path: path, Data: data})
	})
}

// Load reads and decodes every profile under the search root. Files that do
// not decode are logged and dropped. The result keeps enumeration order.
func (s *Store) Load(ctx context.Context) ([]*Profile, error) {
	var raws []RawProfile
	if err := s.Walk(func(raw RawProfile) error {
		raws = append(raws, raw)
		return ctx.Err()
	}); err != nil {
		return nil, err
	}

	decoded := make([]*Profile, len(raws))
	g, ctx := errgroup.WithContext(ctx)
	limit := s.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)

	log := s.logger()
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			profile, err := Decode(raw.Data)
			if err != nil {
				log.WithError(err).WithField("path", raw.Path).Warn("skipping invalid provisioning profile")
				return nil
			}
			decoded[i] = profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	profiles := make([]*Profile, 0, len(decoded))
	for _, p := range decoded {
		if p != nil {
			profiles = append(profiles, p)
		}
	}
	log.WithFields(logrus.Fields{"dir": s.dir(), "files": len(raws), "profiles": len(profiles)}).Debug("loaded provisioning profiles")
	return profiles, nil
}

// LoadFile decodes a single profile file
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read provisioning profile")
	}
	return Decode(data)
}
