package models

// Device is the coarse device class used for creative eligibility.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// Entitlement is the resolved subscription status of a viewer.
type Entitlement int

const (
	// EntitlementUnknown means the status has not been resolved yet or the
	// lookup failed.
	EntitlementUnknown Entitlement = iota
	EntitlementFree
	EntitlementPremium
)

func (e Entitlement) String() string {
	switch e {
	case EntitlementFree:
		return "free"
	case EntitlementPremium:
		return "premium"
	default:
		return "unknown"
	}
}
