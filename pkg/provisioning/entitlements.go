package provisioning

import (
	"fmt"
	"strings"
)

// DistributionMethod is the deployment channel a profile is meant for. It is
// never stored in a profile; Classify derives it from entitlement flags.
type DistributionMethod string

const (
	MethodDevelopment DistributionMethod = "development"
	MethodAdHoc       DistributionMethod = "ad-hoc"
	MethodEnterprise  DistributionMethod = "enterprise"
	MethodAppStore    DistributionMethod = "app-store"
	MethodUnknown     DistributionMethod = "unknown"
)

// ParseMethod parses a distribution method name as accepted on the command line
func ParseMethod(s string) (DistributionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return MethodDevelopment, nil
	case "ad-hoc", "adhoc":
		return MethodAdHoc, nil
	case "enterprise":
		return MethodEnterprise, nil
	case "app-store", "appstore":
		return MethodAppStore, nil
	}
	return MethodUnknown, fmt.Errorf("unsupported distribution method %q", s)
}

// PushEnvironment is the value of the aps-environment entitlement
type PushEnvironment string

const (
	PushUnset       PushEnvironment = ""
	PushDisabled    PushEnvironment = "disabled"
	PushDevelopment PushEnvironment = "development"
	PushProduction  PushEnvironment = "production"
)

// Entitlement keys read from a profile
const (
	KeyApplicationIdentifier = "application-identifier"
	KeyGetTaskAllow          = "get-task-allow"
	KeyAPSEnvironment        = "aps-environment"
	KeyMacAPSEnvironment     = "com.apple.developer.aps-environment"
	KeyAllowDebugging        = "com.apple.security.get-task-allow"
	KeyTeamIdentifier        = "com.apple.developer.team-identifier"
)

// Entitlements is the subset of a profile's entitlements the resolver cares
// about. Raw keeps the full dictionary for display.
type Entitlements struct {
	ApplicationIdentifier string
	TeamIdentifier        string
	PushEnvironment       PushEnvironment
	GetTaskAllow          *bool
	AllowDebugging        *bool
	Raw                   map[string]interface{}
}

func parseEntitlements(raw map[string]interface{}) Entitlements {
	ent := Entitlements{Raw: raw}
	if raw == nil {
		return ent
	}

	ent.ApplicationIdentifier, _ = raw[KeyApplicationIdentifier].(string)
	ent.TeamIdentifier, _ = raw[KeyTeamIdentifier].(string)
	if v, ok := raw[KeyGetTaskAllow].(bool); ok {
		ent.GetTaskAllow = &v
	}
	if v, ok := raw[KeyAllowDebugging].(bool); ok {
		ent.AllowDebugging = &v
	}

	env, ok := raw[KeyAPSEnvironment]
	if !ok {
		env, ok = raw[KeyMacAPSEnvironment]
	}
	if ok {
		ent.PushEnvironment = parsePushEnvironment(env)
	}
	return ent
}

func parsePushEnvironment(v interface{}) PushEnvironment {
	s, _ := v.(string)
	switch PushEnvironment(s) {
	case PushDevelopment:
		return PushDevelopment
	case PushProduction:
		return PushProduction
	}
	return PushDisabled
}

// Classify maps entitlement flags to a distribution method. Rules are
// evaluated in order and the first match wins:
//
//	development push + get-task-allow        -> development
//	development push without get-task-allow  -> unknown
//	production push + device list present    -> ad-hoc
//	production push + provisions all devices -> enterprise
//	production push otherwise                -> app-store
//	anything else                            -> unknown
func Classify(ent Entitlements, provisionedDevices []string, provisionsAllDevices *bool) DistributionMethod {
	switch ent.PushEnvironment {
	case PushDevelopment:
		if ent.GetTaskAllow != nil && *ent.GetTaskAllow {
			return MethodDevelopment
		}
		return MethodUnknown
	case PushProduction:
		if provisionedDevices != nil {
			return MethodAdHoc
		}
		if provisionsAllDevices != nil && *provisionsAllDevices {
			return MethodEnterprise
		}
		return MethodAppStore
	default:
		return MethodUnknown
	}
}

// Platform is an Apple operating system a profile may target
type Platform string

const (
	PlatformIOS     Platform = "iOS"
	PlatformMacOS   Platform = "macOS"
	PlatformTvOS    Platform = "tvOS"
	PlatformWatchOS Platform = "watchOS"
)

// ParsePlatform parses a platform name case-insensitively
func ParsePlatform(s string) (Platform, error) {
	if p := PlatformFromProfile(s); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("unsupported platform %q", s)
}

// PlatformFromProfile maps an entry of a profile's Platform array to a
// Platform. macOS profiles list "OSX". Unknown names map to "".
func PlatformFromProfile(name string) Platform {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ios":
		return PlatformIOS
	case "macos", "osx":
		return PlatformMacOS
	case "tvos":
		return PlatformTvOS
	case "watchos":
		return PlatformWatchOS
	}
	return ""
}
