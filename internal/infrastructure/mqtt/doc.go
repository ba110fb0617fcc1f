// Package mqtt wraps the Eclipse Paho MQTT client with the connection
// management the bridge needs: TLS and credential setup from config,
// Last Will registration, automatic reconnection, and re-subscription
// of tracked topic filters after a reconnect.
//
// The wrapper exposes a small surface (Connect, Publish, Subscribe,
// Unsubscribe, Close) and keeps paho types out of the rest of the
// codebase so higher layers can be tested against a plain interface.
package mqtt
