package targeting

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patrickwarner/adrotator/internal/models"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

func TestDeviceFromViewport(t *testing.T) {
	assert.Equal(t, models.DeviceMobile, DeviceFromViewport(767, 0))
	assert.Equal(t, models.DeviceDesktop, DeviceFromViewport(768, 0))
	assert.Equal(t, models.DeviceMobile, DeviceFromViewport(1000, 1024))
}

func TestDeviceFromUserAgent(t *testing.T) {
	assert.Equal(t, models.DeviceMobile, DeviceFromUserAgent(iphoneUA))
	assert.Equal(t, models.DeviceDesktop, DeviceFromUserAgent(desktopUA))
	assert.Equal(t, models.DeviceDesktop, DeviceFromUserAgent(""))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r).String())

	r.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", ClientIP(r).String())

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r).String())

	r.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "198.51.100.4", ClientIP(r).String())
}

func TestResolvePrefersViewport(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", desktopUA)

	device, country := Resolve(r, nil, 400, DefaultBreakpoint)
	assert.Equal(t, models.DeviceMobile, device)
	assert.Empty(t, country)

	device, _ = Resolve(r, nil, 0, DefaultBreakpoint)
	assert.Equal(t, models.DeviceDesktop, device)
}
