// Package bridge contains the core of the Caseta-to-MQTT bridge: the
// device registry, the authoritative state cache, the session adapters
// for the hub and the broker, the button press classifier, the event
// router, and the reconnection supervisors.
//
// The hub is ground truth. State flows one way: hub notifications are
// applied to the cache and published retained to MQTT; MQTT commands
// are forwarded to the hub and the resulting state change comes back
// as a hub notification. The cache is never updated optimistically.
//
// A single router goroutine owns all cache mutation, consuming the hub
// and broker streams sequentially. Supervisors manage connection
// lifecycles independently per session and pump per-connection streams
// into the router's stable channels.
package bridge
