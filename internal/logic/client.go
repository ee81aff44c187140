package logic

import (
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/geoip"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
)

// HeaderUserID carries the authenticated user id set by the upstream auth proxy.
const HeaderUserID = "X-User-ID"

// proxyHeaders are consulted in order when proxy headers are trusted.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// ClientInfo describes who is making a request.
type ClientInfo struct {
	UserID     string `json:"user_id,omitempty"`
	IP         string `json:"ip"`
	ClientID   string `json:"client_id"`
	UserAgent  string `json:"user_agent,omitempty"`
	DeviceType string `json:"device_type"`
	IsBot      bool   `json:"is_bot"`
	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
}

// DeviceFromUA parses a raw User-Agent into a device type and bot flag using
// uasurfer.
func DeviceFromUA(uaString string) (deviceType string, isBot bool) {
	u := uasurfer.Parse(uaString)

	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}
	return deviceType, u.IsBot()
}

// ClientIP returns the caller's address. Proxy headers are only honoured when
// trustProxy is set; otherwise anyone could pick their own rate limit key.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, h := range proxyHeaders {
			v := r.Header.Get(h)
			if v == "" {
				continue
			}
			// X-Forwarded-For can be comma-separated, take first IP
			if idx := strings.Index(v, ","); idx != -1 {
				v = v[:idx]
			}
			v = strings.TrimSpace(v)
			if net.ParseIP(v) != nil {
				return v
			}
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// ResolveClient extracts identity, device and location from the request.
// The client id prefers the authenticated user and falls back to the IP.
func ResolveClient(r *http.Request, g *geoip.GeoIP, trustProxy bool) ClientInfo {
	ua := r.Header.Get("User-Agent")
	info := ClientInfo{
		UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
		IP:        ClientIP(r, trustProxy),
		UserAgent: ua,
	}
	info.ClientID = ratelimit.ClientID(info.UserID, info.IP)
	info.DeviceType, info.IsBot = DeviceFromUA(ua)

	loc := g.Locate(info.IP)
	info.Country = loc.Country
	info.Region = loc.Region
	return info
}
