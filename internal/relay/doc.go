// Package relay manages the session with the EasyDaq USB relay card that
// drives the start lights.
//
// The serial link is unreliable (USB cables get kicked out, the card browns
// out when the lights switch), so the Session models it as a state machine:
//
//	DISCONNECTED --Connect, open ok--> (settle delay) --> CONNECTED
//	DISCONNECTED --Connect, open fails--> RECONNECTING
//	CONNECTED --any I/O failure--> RECONNECTING
//	RECONNECTING --backoff--> Connect --> (settle delay) --> CONNECTED
//	any --Disconnect--> DISCONNECTED
//
// While connected, the session keeps the link alive with a status query
// when it has been idle for a heartbeat interval, and spaces all writes at
// least one pacing interval apart so the card is never flooded. When a
// session is re-established after a failure it replays the last light
// command so the board shows what the operator last asked for.
//
// I/O errors never escape: they are logged, counted and turned into a
// RECONNECTING transition. Observers learn about every state change.
//
// Thread Safety:
//   - A Session belongs to one scheduler.Loop. Every method except State
//     and Stats must be called on that loop's goroutine (from a loop
//     callback or through Loop.Do).
package relay
