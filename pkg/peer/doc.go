// Package peer implements a minimal ground station for virtual battery
// devices.
//
// The peer accepts device links over TCP and completes the heartbeat
// handshake as system 1, component 1. On PARAM_REQUEST_LIST it streams its
// parameter table as PARAM_VALUE messages, one per entry, each carrying
// param_count and param_index. PARAM_SET from a device updates the table and
// is answered with the new PARAM_VALUE. Operators push single values with
// SetParam. The latest BATTERY_STATUS of each link is kept for display.
package peer
