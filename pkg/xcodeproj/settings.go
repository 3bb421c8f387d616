package xcodeproj

import (
	"regexp"
	"strings"
)

const (
	KeyBundleIdentifier = "PRODUCT_BUNDLE_IDENTIFIER"
	KeyMarketingVersion = "MARKETING_VERSION"
	KeyProjectVersion   = "CURRENT_PROJECT_VERSION"
)

const maxExpansionDepth = 16

// $(NAME), ${NAME} and $(NAME:modifier)
var settingRef = regexp.MustCompile(`\$[({]([A-Za-z0-9_]+)(?::([A-Za-z0-9_,]+))?[)}]`)

// buildSettings returns the settings dictionary of the configuration named c
// in the given XCConfigurationList. Names compare case-insensitively.
func (p *Project) buildSettings(configList string, c Configuration) map[string]interface{} {
	list, ok := p.objects[configList]
	if !ok {
		return nil
	}
	for _, id := range strs(list, "buildConfigurations") {
		conf, ok := p.objects[id]
		if !ok || !strings.EqualFold(str(conf, "name"), string(c)) {
			continue
		}
		settings, _ := conf["buildSettings"].(map[string]interface{})
		return settings
	}
	return nil
}

// rawSetting looks a key up in the target configuration, then in the project
// configuration.
func (p *Project) rawSetting(t Target, c Configuration, key string) (string, bool) {
	for _, list := range []string{t.configList, p.configList} {
		settings := p.buildSettings(list, c)
		v, ok := settings[key]
		if !ok {
			continue
		}
		switch v := v.(type) {
		case string:
			return v, true
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, " "), true
		}
	}
	return "", false
}

func (p *Project) builtin(t Target, c Configuration, key string) (string, bool) {
	switch key {
	case "TARGET_NAME":
		return t.Name, true
	case "PRODUCT_NAME":
		if t.ProductName != "" {
			return t.ProductName, true
		}
		return t.Name, true
	case "PROJECT_NAME":
		return p.Name, true
	case "CONFIGURATION":
		return string(c), true
	case "SRCROOT", "PROJECT_DIR":
		return p.Dir(), true
	}
	return "", false
}

// BuildSetting resolves a build setting for a target and configuration with
// $(VAR) references expanded. Unknown references expand to "".
// $(inherited) also expands to "" rather than to the value of the next
// level up, so a target value of "$(inherited) -ObjC" resolves to " -ObjC".
func (p *Project) BuildSetting(t Target, c Configuration, key string) (string, bool) {
	v, ok := p.rawSetting(t, c, key)
	if !ok {
		return "", false
	}
	return p.expand(t, c, v, 0), true
}

func (p *Project) expand(t Target, c Configuration, s string, depth int) string {
	if depth >= maxExpansionDepth || !strings.Contains(s, "$") {
		return s
	}
	return settingRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := settingRef.FindStringSubmatch(ref)
		name, modifiers := m[1], m[2]
		if name == "inherited" {
			return ""
		}

		v, ok := p.rawSetting(t, c, name)
		if !ok {
			v, _ = p.builtin(t, c, name)
		}
		v = p.expand(t, c, v, depth+1)

		for _, mod := range strings.Split(modifiers, ",") {
			v = applyModifier(v, mod)
		}
		return v
	})
}

var (
	nonRFC1034 = regexp.MustCompile(`[^A-Za-z0-9.-]`)
	nonC99     = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

func applyModifier(v, mod string) string {
	switch mod {
	case "rfc1034identifier":
		return nonRFC1034.ReplaceAllString(v, "-")
	case "c99extidentifier", "identifier":
		return nonC99.ReplaceAllString(v, "_")
	case "lower":
		return strings.ToLower(v)
	case "upper":
		return strings.ToUpper(v)
	}
	return v
}
