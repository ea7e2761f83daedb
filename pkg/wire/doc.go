// Package wire defines the CBOR wire format of the telemetry link.
//
// Every frame on the link carries one CBOR map with integer keys. There are
// two kinds of maps:
//   - Packet: a schema message addressed by message ID, carrying the
//     sender's system/component identity, a rolling sequence number and
//     the message fields keyed by their schema position.
//   - ControlMessage: transport-level ping, pong and close, recognised by
//     the presence of key 0.
//
// # CBOR Integer Keys
//
// Packets use keys 1-5, control messages use keys 0-1. Field keys inside a
// packet payload start at 1 and follow the order of the fields in the
// message definition.
//
// The encoder is deterministic (canonical key order, definite lengths) so
// identical packets always produce identical bytes.
package wire
