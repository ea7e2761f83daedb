// Package connection drives the device's link lifecycle.
//
// The Manager moves through four states:
//
//	DISCONNECTED ──AttemptConnect──▶ AWAITING_HANDSHAKE
//	      ▲                                 │ subscribe
//	      │                                 ▼
//	      │ link lost              SYNCING_PARAMETERS
//	      │                                 │ PARAM_REQUEST_LIST
//	      └──────────────────────── CONNECTED ◀┘
//
// Every failure returns the manager to DISCONNECTED; none is terminal.
// Each link gets its own Subscription, which drains the link's inbound
// messages and forwards PARAM_VALUE updates to the parameter store until
// the link is discarded.
//
// # Backoff
//
// Reconnect pacing comes from the bounded connect timeout. An optional
// capped exponential backoff with jitter can additionally skip attempts:
//
//	delay = min(initial * 2^n, max) + random(0, delay * 0.25)
package connection
