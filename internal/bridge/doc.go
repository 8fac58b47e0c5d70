// Package bridge connects the race controller to MQTT remote consoles.
//
// Consoles publish CommandMessages to {prefix}/command/{action}; every
// command is answered with an AckMessage on {prefix}/ack/{action}.
// Controller events are mirrored as retained state so a console that
// connects late sees the current session, sequence and countdown:
//
//	{prefix}/state/session    racecontrol.Event (kind "session")
//	{prefix}/state/sequence   racecontrol.Event (kind "sequence")
//	{prefix}/state/countdown  racecontrol.Event (kind "countdown")
//	{prefix}/health           HealthMessage, also the broker Last Will
//
// Actions:
//
//	connect, disconnect      open or close the relay session
//	lights                   {"lights": ["on","off",...]} or {"preset": "three"}
//	lights_off               switch every light off
//	start                    {"policy": "flag", "starts": 2, "minutes": 1}
//	reset                    cancel the countdown and sequence
//
// Controller events arrive on the scheduler loop and are queued to a
// single publisher goroutine, so a slow broker never stalls the lights.
package bridge
