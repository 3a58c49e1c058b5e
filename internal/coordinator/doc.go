// Package coordinator owns the polling lifecycle of configured devices.
//
// One Coordinator per device polls its status on a fixed cadence,
// retries the firmware's transient error codes once within the same
// cycle, tracks availability with a consecutive-failure budget and fans
// snapshots out to subscribers (the MQTT bridge, the HTTP API and the
// websocket feed). Subscribers are never allowed to stall a poll; a
// slow one drops intermediate updates.
package coordinator
