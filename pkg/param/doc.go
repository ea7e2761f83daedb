// Package param holds the battery configuration parameters pushed by the
// ground station.
//
// The vocabulary is fixed. Writes to identifiers outside of it are dropped
// with an informational log entry so that a peer running a newer parameter
// set does not disturb the device. Reads of identifiers that were never
// written return 0.
//
// A Store is safe for concurrent use. Inbound parameter messages are applied
// from the link's subscription goroutine while the scheduler reads the store
// on every tick.
package param
