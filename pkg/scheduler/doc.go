// Package scheduler runs the device main loop.
//
// Each iteration performs, in order:
//
//  1. Reconnect handling. A connected link is polled for liveness; when
//     there is no connected link, one bounded connection attempt is made.
//  2. One tick of the battery model, whether or not a link is up.
//  3. A BATTERY_STATUS publish if at least PublishPeriod has passed since
//     the last successful publish.
//
// Connect precedes tick and tick precedes publish, so a link established in
// an iteration receives telemetry in that same iteration. The loop runs on a
// single goroutine; only the connection attempt may block it.
package scheduler
