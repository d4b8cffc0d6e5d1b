package types

import (
	"fmt"
	"strings"
)

// Platform identifies the client platform a configuration value applies to.
// An empty Platform means the value applies to all platforms.
type Platform string

const (
	PlatformWeb            Platform = "WEB"
	PlatformMobileAndroid  Platform = "MOBILE_ANDROID"
	PlatformMobileIOS      Platform = "MOBILE_IOS"
	PlatformDesktopWindows Platform = "DESKTOP_WINDOWS"
	PlatformDesktopMac     Platform = "DESKTOP_MAC"
	PlatformDesktopLinux   Platform = "DESKTOP_LINUX"
	PlatformAll            Platform = "ALL"
)

// ParsePlatform parses a platform tag, accepting any case.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToUpper(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformMobileAndroid, PlatformMobileIOS,
		PlatformDesktopWindows, PlatformDesktopMac, PlatformDesktopLinux, PlatformAll:
		return p, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, s)
	}
}

// DetectPlatform resolves a platform tag from an explicit header value,
// falling back to user-agent heuristics, defaulting to WEB.
func DetectPlatform(header, userAgent string) Platform {
	if p, err := ParsePlatform(header); err == nil && p != "" {
		return p
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"):
		return PlatformMobileAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return PlatformMobileIOS
	case strings.Contains(ua, "windows"):
		return PlatformDesktopWindows
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return PlatformDesktopMac
	case strings.Contains(ua, "linux"):
		return PlatformDesktopLinux
	default:
		return PlatformWeb
	}
}

// Scope narrows a configuration value's applicability. An empty field
// means "applies to all".
type Scope struct {
	Environment string   `json:"environment,omitempty"`
	Platform    Platform `json:"platform,omitempty"`
}

// String returns the scope in "env/platform" form with "*" for wildcards.
func (s Scope) String() string {
	env := s.Environment
	if env == "" {
		env = "*"
	}
	plat := string(s.Platform)
	if plat == "" {
		plat = "*"
	}
	return env + "/" + plat
}

// Cascade returns the scope fallback chain used to resolve a value:
// exact scope, exact environment, exact platform, then fully unscoped.
func (s Scope) Cascade() []Scope {
	return []Scope{
		{Environment: s.Environment, Platform: s.Platform},
		{Environment: s.Environment},
		{Platform: s.Platform},
		{},
	}
}
