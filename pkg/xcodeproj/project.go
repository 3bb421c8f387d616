// Package xcodeproj reads the parts of an Xcode project needed to archive it:
// shared schemes, native targets and their per-configuration build settings.
package xcodeproj

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"howett.net/plist"
)

// Configuration names a build configuration
type Configuration string

const (
	Debug   Configuration = "Debug"
	Release Configuration = "Release"
)

// ParseConfiguration accepts a configuration name in any case
func ParseConfiguration(s string) (Configuration, error) {
	switch {
	case strings.EqualFold(s, string(Debug)):
		return Debug, nil
	case strings.EqualFold(s, string(Release)):
		return Release, nil
	}
	return "", errors.Errorf("unknown configuration %q (expected Debug or Release)", s)
}

// Target is a PBXNativeTarget
type Target struct {
	ID          string
	Name        string
	ProductName string
	ProductType string

	configList string
}

// Project is a parsed .xcodeproj bundle
type Project struct {
	Path string
	Name string

	objects    map[string]map[string]interface{}
	configList string
	targets    []Target
	schemes    []Scheme
	workspace  string
}

type pbxproj struct {
	RootObject string                 `plist:"rootObject"`
	Objects    map[string]interface{} `plist:"objects"`
}

// Open reads an .xcodeproj bundle. A directory that is not itself a project
// is searched for the first .xcodeproj it contains.
func Open(path string) (*Project, error) {
	path, err := resolveProjectPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(path, "project.pbxproj"))
	if err != nil {
		return nil, errors.Wrapf(err, "project doesn't contain a project.pbxproj file at %s", path)
	}

	var raw pbxproj
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse project.pbxproj")
	}

	p := &Project{
		Path:    path,
		Name:    strings.TrimSuffix(filepath.Base(path), ".xcodeproj"),
		objects: make(map[string]map[string]interface{}, len(raw.Objects)),
	}
	for id, obj := range raw.Objects {
		if m, ok := obj.(map[string]interface{}); ok {
			p.objects[id] = m
		}
	}

	root, ok := p.objects[raw.RootObject]
	if !ok || str(root, "isa") != "PBXProject" {
		return nil, errors.Errorf("project.pbxproj has no PBXProject root object")
	}
	p.configList = str(root, "buildConfigurationList")

	for _, id := range strs(root, "targets") {
		obj, ok := p.objects[id]
		if !ok || str(obj, "isa") != "PBXNativeTarget" {
			continue
		}
		p.targets = append(p.targets, Target{
			ID:          id,
			Name:        str(obj, "name"),
			ProductName: str(obj, "productName"),
			ProductType: str(obj, "productType"),
			configList:  str(obj, "buildConfigurationList"),
		})
	}

	if p.schemes, err = loadSharedSchemes(path); err != nil {
		return nil, err
	}
	p.workspace = findWorkspace(filepath.Dir(path))
	return p, nil
}

func resolveProjectPath(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "project cannot be found at %s", path)
	}
	if !fi.IsDir() {
		return "", errors.Errorf("%s is not an Xcode project", path)
	}
	if filepath.Ext(path) == ".xcodeproj" {
		return path, nil
	}
	matches, _ := filepath.Glob(filepath.Join(path, "*.xcodeproj"))
	if len(matches) == 0 {
		return "", errors.Errorf("no .xcodeproj found in %s", path)
	}
	sort.Strings(matches)
	return matches[0], nil
}

func findWorkspace(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.xcworkspace"))
	sort.Strings(matches)
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			return m
		}
	}
	return ""
}

// Targets returns the native targets in project order
func (p *Project) Targets() []Target {
	return p.targets
}

// Target looks up a native target by name
func (p *Project) Target(name string) (Target, bool) {
	for _, t := range p.targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Workspace returns the sibling .xcworkspace path, or ""
func (p *Project) Workspace() string {
	return p.workspace
}

// Dir is the directory holding the project bundle
func (p *Project) Dir() string {
	return filepath.Dir(p.Path)
}

func str(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func strs(obj map[string]interface{}, key string) []string {
	arr, _ := obj[key].([]interface{})
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
