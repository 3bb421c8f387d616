package xcodeproj

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// BuildableReference points a scheme entry at a target
type BuildableReference struct {
	BlueprintIdentifier string `xml:"BlueprintIdentifier,attr"`
	BlueprintName       string `xml:"BlueprintName,attr"`
	BuildableName       string `xml:"BuildableName,attr"`
	ReferencedContainer string `xml:"ReferencedContainer,attr"`
}

// BuildActionEntry is one target built by a scheme
type BuildActionEntry struct {
	BuildForArchiving string             `xml:"buildForArchiving,attr"`
	Reference         BuildableReference `xml:"BuildableReference"`
}

// ArchivesTarget reports whether the Archive box is checked for this entry
func (e BuildActionEntry) ArchivesTarget() bool {
	return e.BuildForArchiving == "YES"
}

// Scheme is a shared .xcscheme
type Scheme struct {
	Name string
	Path string

	Entries              []BuildActionEntry
	ArchiveConfiguration string
}

type schemeXML struct {
	XMLName     xml.Name           `xml:"Scheme"`
	Entries     []BuildActionEntry `xml:"BuildAction>BuildActionEntries>BuildActionEntry"`
	ArchiveConf struct {
		BuildConfiguration string `xml:"buildConfiguration,attr"`
	} `xml:"ArchiveAction"`
}

// ParseScheme decodes .xcscheme XML
func ParseScheme(name string, data []byte) (Scheme, error) {
	var raw schemeXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return Scheme{}, errors.Wrapf(err, "failed to parse scheme %s", name)
	}
	return Scheme{
		Name:                 name,
		Entries:              raw.Entries,
		ArchiveConfiguration: raw.ArchiveConf.BuildConfiguration,
	}, nil
}

func loadSharedSchemes(projectPath string) ([]Scheme, error) {
	dir := filepath.Join(projectPath, "xcshareddata", "xcschemes")
	matches, err := filepath.Glob(filepath.Join(dir, "*.xcscheme"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schemes")
	}
	sort.Strings(matches)

	schemes := make([]Scheme, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read scheme %s", path)
		}
		s, err := ParseScheme(strings.TrimSuffix(filepath.Base(path), ".xcscheme"), data)
		if err != nil {
			return nil, err
		}
		s.Path = path
		schemes = append(schemes, s)
	}
	return schemes, nil
}

// SchemeNames lists shared scheme names in lexical order
func (p *Project) SchemeNames() []string {
	names := make([]string, 0, len(p.schemes))
	for _, s := range p.schemes {
		names = append(names, s.Name)
	}
	return names
}

// Scheme looks up a shared scheme by exact name
func (p *Project) Scheme(name string) (Scheme, bool) {
	for _, s := range p.schemes {
		if s.Name == name {
			return s, true
		}
	}
	return Scheme{}, false
}

// ArchivableTarget returns the first target the scheme builds for archiving
// that exists as a native target in this project.
func (p *Project) ArchivableTarget(s Scheme) (Target, bool) {
	for _, e := range s.Entries {
		if !e.ArchivesTarget() {
			continue
		}
		if t, ok := p.Target(e.Reference.BlueprintName); ok {
			return t, true
		}
	}
	return Target{}, false
}
