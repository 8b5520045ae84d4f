package targeting

import (
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/adrotator/internal/geoip"
	"github.com/patrickwarner/adrotator/internal/models"
)

// DefaultBreakpoint is the viewport width in CSS pixels below which a viewer
// is classified as mobile.
const DefaultBreakpoint = 768

// DeviceFromViewport classifies a viewport width. A non-positive breakpoint
// uses DefaultBreakpoint.
func DeviceFromViewport(width, breakpoint int) models.Device {
	if breakpoint <= 0 {
		breakpoint = DefaultBreakpoint
	}
	if width < breakpoint {
		return models.DeviceMobile
	}
	return models.DeviceDesktop
}

// DeviceFromUserAgent classifies a raw User-Agent with uasurfer. Phones are
// mobile; tablets, computers and anything unrecognised count as desktop,
// matching how tablet viewports fall above the breakpoint.
func DeviceFromUserAgent(ua string) models.Device {
	if ua == "" {
		return models.DeviceDesktop
	}
	if uasurfer.Parse(ua).DeviceType == uasurfer.DevicePhone {
		return models.DeviceMobile
	}
	return models.DeviceDesktop
}

// ClientIP extracts the originating client address. The first
// X-Forwarded-For hop wins, then X-Real-IP, then the connection address.
func ClientIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if ip := net.ParseIP(xr); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// Resolve derives the device class and country for a request. When the view
// reports a viewport width it wins over the User-Agent.
func Resolve(r *http.Request, g *geoip.GeoIP, viewportWidth, breakpoint int) (models.Device, string) {
	var device models.Device
	if viewportWidth > 0 {
		device = DeviceFromViewport(viewportWidth, breakpoint)
	} else {
		device = DeviceFromUserAgent(r.UserAgent())
	}
	return device, g.Country(ClientIP(r))
}
