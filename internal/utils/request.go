package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	ua "github.com/mssola/user_agent"
)

// GetRealIP returns the client address of a request made through a proxy.
// X-Real-IP wins, then the first public address in X-Forwarded-For, then the
// first forwarded address of any kind, then gin's ClientIP.
func GetRealIP(c *gin.Context) string {
	if realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP")); realIP != "" {
		if ip := net.ParseIP(realIP); ip != nil && !isPrivateIP(ip) {
			return realIP
		}
	}

	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		for _, raw := range ips {
			candidate := strings.TrimSpace(raw)
			if ip := net.ParseIP(candidate); ip != nil && !isPrivateIP(ip) && !ip.IsLoopback() {
				return candidate
			}
		}
		if first := strings.TrimSpace(ips[0]); net.ParseIP(first) != nil {
			return first
		}
	}

	return c.ClientIP()
}

// GetUserAgent returns the User-Agent header, or "Unknown"
func GetUserAgent(c *gin.Context) string {
	if agent := c.Request.UserAgent(); agent != "" {
		return agent
	}
	return "Unknown"
}

func isPrivateIP(ip net.IP) bool {
	return ip != nil && ip.IsPrivate()
}

// Terminal describes the device a cashier sells from
type Terminal struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop, unknown
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

// ParseTerminal extracts the device kind, OS and browser from a User-Agent
func ParseTerminal(userAgent string) Terminal {
	if userAgent == "" || userAgent == "Unknown" {
		return Terminal{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()
	browser := name
	if version != "" {
		browser = name + " " + version
	}

	t := Terminal{
		DeviceType: "desktop",
		OS:         parser.OS(),
		Browser:    browser,
		IsBot:      parser.Bot(),
	}
	if t.OS == "" {
		t.OS = "Unknown"
	}
	if parser.Mobile() {
		t.DeviceType = "mobile"
		lower := strings.ToLower(userAgent)
		for _, hint := range []string{"ipad", "tablet", "sm-t", "nexus 7", "nexus 10"} {
			if strings.Contains(lower, hint) {
				t.DeviceType = "tablet"
				break
			}
		}
	}
	return t
}
