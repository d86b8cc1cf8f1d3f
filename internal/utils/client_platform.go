package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// Booking channels recorded on a booking
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
	PlatformAPI     = "api"
	PlatformUnknown = "unknown"
)

// ParseClientPlatform classifies the booking channel from a User-Agent header.
// Native apps send okhttp / CFNetwork style agents; browsers are "web"; bots and tools are "api".
func ParseClientPlatform(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return PlatformUnknown
	}

	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "okhttp") || strings.Contains(lower, "dalvik"):
		return PlatformAndroid
	case strings.Contains(lower, "cfnetwork") || strings.Contains(lower, "darwin/"):
		return PlatformIOS
	}

	parser := ua.New(userAgent)
	if parser.Bot() {
		return PlatformAPI
	}

	browser, _ := parser.Browser()
	if browser == "" || strings.EqualFold(browser, "curl") || strings.HasPrefix(lower, "go-http-client") {
		return PlatformAPI
	}

	if parser.Mobile() {
		osName := strings.ToLower(parser.OS())
		switch {
		case strings.Contains(osName, "android"):
			return PlatformAndroid
		case strings.Contains(osName, "iphone") || strings.Contains(osName, "ios") || strings.Contains(osName, "ipad"):
			return PlatformIOS
		}
	}
	return PlatformWeb
}
