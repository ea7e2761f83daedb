// Package discovery implements mDNS/DNS-SD presence for virtual battery
// devices.
//
// A device announces one instance of the _vbat._tcp service at startup.
// The instance name defaults to vbat-<sysid>-<compid>. TXT records carry:
//
//   - sysid: the device system ID (required)
//   - compid: the device component ID (required)
//   - type: the vehicle type name, e.g. BATTERY
//   - schema: the message definition version
//   - rem: the remaining charge in percent from the initial status record
//
// Ground stations browse the same service type to list devices on the local
// network. Addresses reported for the same instance on several interfaces
// are merged into one entry.
package discovery
