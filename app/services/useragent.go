package services

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device types stored on click logs
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// ClientInfo is what the tracker keeps from a user agent
type ClientInfo struct {
	DeviceType string
	Browser    string
	OS         string
}

// ParseUserAgent classifies a raw User-Agent header
func ParseUserAgent(raw string) ClientInfo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClientInfo{DeviceType: DeviceUnknown}
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	browser := strings.TrimSpace(name + " " + version)

	info := ClientInfo{Browser: browser, OS: ua.OSInfo().Name}
	lower := strings.ToLower(raw)
	switch {
	case ua.Bot():
		info.DeviceType = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.DeviceType = DeviceTablet
	case ua.Mobile():
		info.DeviceType = DeviceMobile
	default:
		info.DeviceType = DeviceDesktop
	}
	return info
}
