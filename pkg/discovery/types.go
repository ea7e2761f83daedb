package discovery

import (
	"errors"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a virtual battery.
	ServiceType = "_vbat._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is advertised when PresenceInfo.Port is zero.
	DefaultPort = 5790
)

// TXT record keys.
const (
	TXTKeySystemID      = "sysid"
	TXTKeyComponentID   = "compid"
	TXTKeyType          = "type"
	TXTKeySchemaVersion = "schema"
	TXTKeyRemaining     = "rem"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the DNS record TTL used by DefaultAdvertiserConfig.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAnnounced        = errors.New("presence not announced")
)

// PresenceInfo describes a device for advertising.
type PresenceInfo struct {
	// InstanceName is the mDNS instance name. Empty means vbat-<sysid>-<compid>.
	InstanceName string

	// SystemID and ComponentID identify the device on the link.
	SystemID    uint8
	ComponentID uint8

	// Type is the vehicle type name without the MAV_TYPE_ prefix.
	Type string

	// SchemaVersion is the version of the message definitions in use.
	SchemaVersion int

	// BatteryRemaining is the remaining charge in percent.
	BatteryRemaining int8

	// Port is the advertised port.
	Port uint16

	// Host is the hostname to advertise.
	Host string
}

// Instance returns the instance name to register.
func (p *PresenceInfo) Instance() string {
	if p.InstanceName != "" {
		return p.InstanceName
	}
	return defaultInstanceName(p.SystemID, p.ComponentID)
}

// DeviceService is a device found via mDNS.
type DeviceService struct {
	// InstanceName is the mDNS instance name (e.g., "vbat-1-180").
	InstanceName string

	// Host is the hostname.
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	SystemID         uint8
	ComponentID      uint8
	Type             string
	SchemaVersion    int
	BatteryRemaining int8
}
