// Package transport carries schema messages between the battery device
// and its ground station.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Schema messages (HEARTBEAT,  │
//	│   PARAM_*, BATTERY_STATUS)     │
//	├────────────────────────────────┤
//	│   CBOR packets / control msgs  │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Handshake
//
// Both ends send a HEARTBEAT as soon as the TCP connection is up and wait,
// bounded by the handshake timeout, for the other side's HEARTBEAT. The
// peer's heartbeat also fills in its system and component IDs.
//
// # Liveness
//
// A Link resends its HEARTBEAT every second and pings the peer:
//   - Ping interval: 2 seconds
//   - Pong timeout: 1 second
//   - Max missed pongs: 3
//
// Runtime dials (device side). Server accepts (ground-station side).
package transport
